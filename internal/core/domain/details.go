package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownDetailsKind = errors.New("unknown booking details kind")

// BookingDetails carries the kind-specific part of a booking. The concrete
// types below are the only implementations.
type BookingDetails interface {
	Kind() InventoryKind
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type TourDetails struct {
	Contact     Contact `json:"contact"`
	PickupPoint string  `json:"pickup_point,omitempty"`
	Language    string  `json:"language,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

type CarDetails struct {
	Contact         Contact `json:"contact"`
	DriverName      string  `json:"driver_name,omitempty"`
	DriverLicense   string  `json:"driver_license,omitempty"`
	PickupLocation  string  `json:"pickup_location,omitempty"`
	DropoffLocation string  `json:"dropoff_location,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

type Passenger struct {
	FullName       string `json:"full_name"`
	PassportNumber string `json:"passport_number,omitempty"`
}

type FlightDetails struct {
	Contact    Contact     `json:"contact"`
	CabinClass string      `json:"cabin_class,omitempty"`
	Passengers []Passenger `json:"passengers,omitempty"`
	Notes      string      `json:"notes,omitempty"`
}

type HotDealDetails struct {
	Contact Contact `json:"contact"`
	Notes   string  `json:"notes,omitempty"`
}

func (TourDetails) Kind() InventoryKind    { return KindTour }
func (CarDetails) Kind() InventoryKind     { return KindCar }
func (FlightDetails) Kind() InventoryKind  { return KindFlight }
func (HotDealDetails) Kind() InventoryKind { return KindHotDeal }

// MarshalDetails encodes details as a flat object tagged with its kind:
// {"kind":"car","driver_name":...}. Nil details encode to nil.
func MarshalDetails(d BookingDetails) ([]byte, error) {
	switch v := d.(type) {
	case nil:
		return nil, nil
	case TourDetails:
		return json.Marshal(struct {
			Kind InventoryKind `json:"kind"`
			TourDetails
		}{KindTour, v})
	case CarDetails:
		return json.Marshal(struct {
			Kind InventoryKind `json:"kind"`
			CarDetails
		}{KindCar, v})
	case FlightDetails:
		return json.Marshal(struct {
			Kind InventoryKind `json:"kind"`
			FlightDetails
		}{KindFlight, v})
	case HotDealDetails:
		return json.Marshal(struct {
			Kind InventoryKind `json:"kind"`
			HotDealDetails
		}{KindHotDeal, v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownDetailsKind, d)
	}
}

// DecodeDetails is the inverse of MarshalDetails. Empty input and JSON null
// decode to nil details.
func DecodeDetails(raw []byte) (BookingDetails, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var probe struct {
		Kind InventoryKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode booking details: %w", err)
	}

	var (
		d   BookingDetails
		err error
	)
	switch probe.Kind {
	case KindTour:
		var v TourDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case KindCar:
		var v CarDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case KindFlight:
		var v FlightDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case KindHotDeal:
		var v HotDealDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDetailsKind, probe.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s booking details: %w", probe.Kind, err)
	}
	return d, nil
}

func (b Booking) MarshalJSON() ([]byte, error) {
	type alias Booking
	details, err := MarshalDetails(b.Details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Details json.RawMessage `json:"details,omitempty"`
	}{alias(b), details})
}

func (b *Booking) UnmarshalJSON(data []byte) error {
	type alias Booking
	aux := struct {
		*alias
		Details json.RawMessage `json:"details"`
	}{alias: (*alias)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := DecodeDetails(aux.Details)
	if err != nil {
		return err
	}
	b.Details = d
	return nil
}
