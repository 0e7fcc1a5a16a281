package snapshot

// Snapshot is the complete result of one refresh cycle, keyed by the
// upstream communal account ID. A published Snapshot is never mutated;
// each refresh builds a new one and swaps it in wholesale.
type Snapshot map[string]Account

// Account holds the normalized data for a single communal account.
type Account struct {
	ID                    string                 `json:"id"`
	PersonalAccountNumber string                 `json:"personalAccountNumber"`
	Address               string                 `json:"address"`
	PaymentStatus         string                 `json:"paymentStatus"`
	NotificationCount     int                    `json:"notificationCount"`
	Accruals              []Accrual              `json:"accruals"`
	CommunalRequests      []CommunalRequest      `json:"communalRequests"`
	Meters                map[string]MeterRecord `json:"meters"`
	Cameras               []CameraRecord         `json:"cameras"`
	MainPass              *MainPass              `json:"mainPass,omitempty"`
	GuestPasses           []GuestPass            `json:"guestPasses"`
}

// Accrual is a single billing charge line item.
type Accrual struct {
	ID     string  `json:"id"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
}

// CommunalRequest is a service ticket with its lifecycle status code
// (WaitingForRegistration, AtWork, OnHold, Done).
type CommunalRequest struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	StatusCode string `json:"statusCode"`
}

// MeterReading is a dated meter reading. Date keeps the upstream
// dd.mm.yyyy form; readings inside a MeterRecord are sorted ascending
// by that date.
type MeterReading struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// MeterRecord describes a utility meter and its reading history.
type MeterRecord struct {
	Title           string         `json:"title"`
	TypeCode        string         `json:"typeCode"`
	TypeTitle       string         `json:"typeTitle"`
	Unit            string         `json:"unit,omitempty"`
	CalibrationDate string         `json:"calibrationDate,omitempty"`
	History         []MeterReading `json:"history"`
}

// CurrentValue returns the latest reading, which is always the last
// history element.
func (m MeterRecord) CurrentValue() (MeterReading, bool) {
	if len(m.History) == 0 {
		return MeterReading{}, false
	}
	return m.History[len(m.History)-1], true
}

// CameraRecord is a courtyard/entrance camera attached to an account.
// StreamURL stays empty when stream resolution failed or was skipped.
type CameraRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PreviewURL string `json:"previewUrl"`
	StreamURL  string `json:"streamUrl"`
}

// MainPass is the resident's own access-control credential.
type MainPass struct {
	PIN   string `json:"pin"`
	QRURL string `json:"qrUrl"`
	Text  string `json:"text"`
}

// GuestPass is a temporary access credential with a validity window
// (dd.mm.yyyy, inclusive).
type GuestPass struct {
	StrategyTitle string `json:"strategyTitle"`
	ValidFrom     string `json:"validFrom"`
	ValidTo       string `json:"validTo"`
	PIN           string `json:"pin"`
	QRURL         string `json:"qrUrl"`
}

// RequestCounts aggregates communal requests by status code.
type RequestCounts struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	AtWork  int `json:"atWork"`
	OnHold  int `json:"onHold"`
	Waiting int `json:"waiting"`
}

// CountRequests tallies the account's communal requests per status.
func (a Account) CountRequests() RequestCounts {
	counts := RequestCounts{Total: len(a.CommunalRequests)}
	for _, req := range a.CommunalRequests {
		switch req.StatusCode {
		case "Done":
			counts.Done++
		case "AtWork":
			counts.AtWork++
		case "OnHold":
			counts.OnHold++
		case "WaitingForRegistration":
			counts.Waiting++
		}
	}
	return counts
}
