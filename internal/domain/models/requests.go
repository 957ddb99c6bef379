package models

// EventsRequest filters journal queries coming through the HTTP layer.
// Types and TF take comma-separated lists; From and To are RFC 3339.
type EventsRequest struct {
	From    string  `query:"from"`
	To      string  `query:"to"`
	Types   string  `query:"types"`
	TF      string  `query:"tf"`
	MinConf float64 `query:"min_conf" validate:"gte=0,lte=1"`
	Limit   int     `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}
