package domain

// SlotType classifies an availability window.
type SlotType string

const (
	SlotFocus    SlotType = "focus"
	SlotRegular  SlotType = "regular"
	SlotFlexible SlotType = "flexible"
)

func (s SlotType) Valid() bool {
	switch s {
	case SlotFocus, SlotRegular, SlotFlexible:
		return true
	default:
		return false
	}
}

// FocusTimeBlock is a recurring protected window for deep work.
type FocusTimeBlock struct {
	ID            int64  `json:"id"`
	DayOfWeek     int    `json:"day_of_week"`
	StartMin      int    `json:"start_min"`
	EndMin        int    `json:"end_min"`
	AllowMeetings bool   `json:"allow_meetings"`
	Label         string `json:"label,omitempty"`
}

func (b FocusTimeBlock) Validate() error {
	if b.DayOfWeek < 0 || b.DayOfWeek > 6 {
		return Errorf(ErrCodeInvalid, "day of week %d outside 0..6", b.DayOfWeek)
	}
	return ValidateRange(b.StartMin, b.EndMin)
}

// AvailabilityCalendar is a weekly available or unavailable window.
type AvailabilityCalendar struct {
	ID          int64    `json:"id"`
	DayOfWeek   int      `json:"day_of_week"`
	StartMin    int      `json:"start_min"`
	EndMin      int      `json:"end_min"`
	SlotType    SlotType `json:"slot_type"`
	IsAvailable bool     `json:"is_available"`
}

func (a AvailabilityCalendar) Validate() error {
	if a.DayOfWeek < 0 || a.DayOfWeek > 6 {
		return Errorf(ErrCodeInvalid, "day of week %d outside 0..6", a.DayOfWeek)
	}
	if !a.SlotType.Valid() {
		return Errorf(ErrCodeInvalid, "unknown slot type %q", a.SlotType)
	}
	return ValidateRange(a.StartMin, a.EndMin)
}

// Constraints bundles the user's external scheduling constraints.
type Constraints struct {
	FocusBlocks  []FocusTimeBlock       `json:"focus_blocks"`
	Availability []AvailabilityCalendar `json:"availability"`
}

func (c Constraints) Validate() error {
	for _, b := range c.FocusBlocks {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	for _, a := range c.Availability {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}
