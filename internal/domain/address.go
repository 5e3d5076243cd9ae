package domain

type GeoRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

type Address struct {
	FullName      string  `json:"full_name"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email"`
	StreetAddress string  `json:"street_address"`
	City          string  `json:"city,omitempty"`
	PostalCode    string  `json:"postal_code,omitempty"`
	CountryID     *int64  `json:"country_id,omitempty"`
	StateID       *int64  `json:"state_id,omitempty"`
	CityID        *int64  `json:"city_id,omitempty"`
	Country       *GeoRef `json:"country,omitempty"`
	State         *GeoRef `json:"state,omitempty"`
	CityRef       *GeoRef `json:"city_ref,omitempty"`
}
