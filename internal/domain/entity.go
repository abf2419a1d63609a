package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Entity kinds served by the catalog API.
const (
	KindFlights = "flights"
	KindHotels  = "hotels"
	KindTours   = "tours"
)

// Entity is a reservable catalog record. Fields holds everything besides id
// and reserved so flights, hotels and tours share one shape.
type Entity struct {
	ID       string
	Reserved bool
	Fields   map[string]any
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch id := raw["id"].(type) {
	case string:
		e.ID = id
	case json.Number:
		e.ID = id.String()
	case nil:
		e.ID = ""
	default:
		return fmt.Errorf("domain: unsupported entity id type %T", id)
	}
	reserved, _ := raw["reserved"].(bool)
	e.Reserved = reserved
	delete(raw, "id")
	delete(raw, "reserved")
	e.Fields = raw
	return nil
}

func (e Entity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID
	out["reserved"] = e.Reserved
	return json.Marshal(out)
}

// Singular returns the singular noun for a catalog kind, e.g. "flight".
func Singular(kind string) string {
	switch kind {
	case KindFlights:
		return "flight"
	case KindHotels:
		return "hotel"
	case KindTours:
		return "tour"
	}
	return kind
}
