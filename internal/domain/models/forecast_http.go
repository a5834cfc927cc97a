package models

// Requests for forecast endpoints and the Kafka request topic.

type ForecastRequest struct {
	Symbol  string  `query:"symbol" json:"symbol" validate:"required,max=32"`
	TF      string  `query:"tf" json:"tf" default:"4h" validate:"oneof=1h 4h 1d"`
	N       int     `query:"n" json:"n" default:"3000" validate:"gte=0,lte=20000"`
	Horizon int     `query:"horizon" json:"horizon" default:"6" validate:"gte=1,lte=100"`
	Window  int     `query:"window" json:"window" default:"20" validate:"gte=1,lte=2000"`
	Alpha   float64 `query:"alpha" json:"alpha" default:"0.01" validate:"gte=0,lte=10"`
	Cadence string  `query:"cadence" json:"cadence" default:"every_step" validate:"oneof=every_step once"`
	Repair  bool    `query:"repair" json:"repair"`
}

type LiveRequest struct {
	Symbol  string  `query:"symbol" json:"symbol" validate:"required,max=32"`
	TF      string  `query:"tf" json:"tf" default:"4h" validate:"oneof=1h 4h 1d"`
	N       int     `query:"n" json:"n" default:"3000" validate:"gte=0,lte=20000"`
	Horizon int     `query:"horizon" json:"horizon" default:"6" validate:"gte=1,lte=100"`
	Alpha   float64 `query:"alpha" json:"alpha" default:"0.01" validate:"gte=0,lte=10"`
	Repair  bool    `query:"repair" json:"repair"`
}
