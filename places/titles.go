package places

import "wuyrush.io/tourist/models"

const (
	placeholderCountry = "Planet Earth"
	placeholderTitle   = "Somewhere"
)

// Placemark is the administrative hierarchy of a location. Any field may be empty.
type Placemark struct {
	Locality           string `json:"locality,omitempty"`    // city
	SubLocality        string `json:"subLocality,omitempty"` // neighborhood
	AdministrativeArea string `json:"administrativeArea,omitempty"`
	Country            string `json:"country,omitempty"`
}

// Empty reports whether the placemark carries no context at all
func (p *Placemark) Empty() bool {
	return p == nil || (p.Locality == "" && p.SubLocality == "" && p.AdministrativeArea == "" && p.Country == "")
}

// Titles names a location. The title is the most specific of poiName, neighborhood, city and state,
// or "Somewhere"; the subtitle lists the coarser context, e.g. "in Springfield, Illinois, USA".
func Titles(poiName string, pm *Placemark) models.Place {
	if pm == nil {
		pm = &Placemark{}
	}
	city, neighborhood, state, country := pm.Locality, pm.SubLocality, pm.AdministrativeArea, pm.Country
	switch country {
	case "":
		country = placeholderCountry
	case "United States":
		country = "USA"
	}
	cityComma := ""
	if city != "" {
		cityComma = city + ", "
	}
	stateComma := ""
	if state != "" {
		stateComma = state + ", "
	}
	inOn := "in"
	if country == placeholderCountry && state == "" && city == "" {
		inOn = "on"
	}
	switch {
	case poiName != "":
		return models.Place{Title: poiName, Subtitle: inOn + " " + cityComma + stateComma + country}
	case neighborhood != "":
		return models.Place{Title: neighborhood, Subtitle: inOn + " " + cityComma + stateComma + country}
	case city != "":
		return models.Place{Title: city, Subtitle: inOn + " " + stateComma + country}
	case state != "":
		return models.Place{Title: state, Subtitle: inOn + " " + country}
	default:
		return models.Place{Title: placeholderTitle, Subtitle: inOn + " " + country}
	}
}
