package domain

import "fmt"

// Tab and header layouts mirror the spreadsheets the bot's users already have;
// changing them would orphan existing documents.

var tabNames = map[ResourceKind]string{
	KindRequests: "Заявки",
	KindFleet:    "Автопарк",
	KindTrips:    "Рейси",
}

var headers = map[ResourceKind][]string{
	KindRequests: {
		"Маршрут (звідки)",
		"Маршрут (куди)",
		"Дата подачі",
		"Тип вантажу",
		"Обʼєм, м³",
		"Вага, т",
		"Завантаження",
		"Вивантаження",
		"Ціна, грн",
	},
	KindFleet: {
		"Тип ТЗ",
		"Номер",
		"Вантажопідйомність, т",
		"Обʼєм, м³",
		"Спецобладнання",
		"ПІБ водія",
		"Телефон водія",
		"Активний",
	},
	KindTrips: {
		"Заявка",
		"ТЗ",
		"Дата виїзду",
		"Дата доставки",
		"Статус",
	},
}

func TabName(kind ResourceKind) string { return tabNames[kind] }

func HeaderRow(kind ResourceKind) []string { return headers[kind] }

// HeaderForTab resolves a header row from a tab name, for callers that only
// hold the tab. Unknown tabs get no header.
func HeaderForTab(tab string) []string {
	for kind, name := range tabNames {
		if name == tab {
			return headers[kind]
		}
	}
	return nil
}

// SheetTitle is the display title of a freshly created spreadsheet.
func SheetTitle(kind ResourceKind, displayName string) string {
	switch kind {
	case KindRequests:
		return "Заявки: " + displayName
	case KindFleet:
		return "Автопарк • " + displayName
	case KindTrips:
		return "Рейси • " + displayName
	}
	return displayName
}

// ShipmentRequest is the subset of the order entity that lands in the ledger.
type ShipmentRequest struct {
	FromCity  string
	ToCity    string
	DateText  string
	CargoType string
	VolumeM3  float64
	WeightT   float64
	Loading   string
	Unloading string
	PriceUAH  int64
}

func (r *ShipmentRequest) Row() []string {
	return []string{
		r.FromCity,
		r.ToCity,
		r.DateText,
		r.CargoType,
		fmt.Sprintf("%.2f", r.VolumeM3),
		fmt.Sprintf("%.2f", r.WeightT),
		r.Loading,
		r.Unloading,
		fmt.Sprintf("%d", r.PriceUAH),
	}
}

type Vehicle struct {
	VehicleType      string
	RegistrationNum  string
	LoadCapacityTons float64
	BodyVolumeM3     float64
	SpecialEquipment string
	DriverFullName   string
	DriverPhone      string
	Active           bool
}

func (v *Vehicle) Row() []string {
	active := "ні"
	if v.Active {
		active = "так"
	}
	return []string{
		v.VehicleType,
		v.RegistrationNum,
		fmt.Sprintf("%.2f", v.LoadCapacityTons),
		fmt.Sprintf("%.2f", v.BodyVolumeM3),
		v.SpecialEquipment,
		v.DriverFullName,
		v.DriverPhone,
		active,
	}
}
