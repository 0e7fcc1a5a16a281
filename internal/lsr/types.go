package lsr

import "encoding/json"

// rpcRequest is the fixed envelope every RPC operation posts.
type rpcRequest struct {
	Data       any               `json:"data"`
	Method     string            `json:"method"`
	Namespace  string            `json:"namespace"`
	Operation  string            `json:"operation"`
	Parameters map[string]string `json:"parameters"`
}

// rpcEnvelope is the common response wrapper. Data is decoded per
// operation once the status code checks out.
type rpcEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// objectQuery is the body of a GetObjectList call.
type objectQuery struct {
	Type      string     `json:"type"`
	Query     queryBlock `json:"query"`
	PageQuery any        `json:"pageQuery"`
}

type queryBlock struct {
	Conditions             []condition `json:"conditions"`
	Sort                   []any       `json:"sort"`
	LastEditedPropertyType any         `json:"lastEditedPropertyType"`
}

type condition struct {
	Property           string `json:"property"`
	Value              []any  `json:"value"`
	ComparisonOperator string `json:"comparisonOperator"`
}

// byAccountID builds the standard single-condition query used by most
// per-account lookups.
func byAccountID(objType, accountID string) objectQuery {
	return objectQuery{
		Type: objType,
		Query: queryBlock{
			Conditions: []condition{{
				Property:           "communalAccountId",
				Value:              []any{accountID},
				ComparisonOperator: "=",
			}},
			Sort: []any{},
		},
	}
}

// ObjectID is the upstream {id, title} reference carried by most objects.
type ObjectID struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FieldTable is the presentation-oriented rows/cells block the API
// embeds HTML fragments in. The normalize package digs values out of it.
type FieldTable struct {
	Rows []FieldRow `json:"rows"`
}

type FieldRow struct {
	IsVisible *bool       `json:"isVisible"`
	Cells     []FieldCell `json:"cells"`
}

type FieldCell struct {
	Value string `json:"value"`
}

// AccountItem is one entry of the CommunalAccount object list.
type AccountItem struct {
	ObjectID          ObjectID   `json:"objectId"`
	NotificationCount int        `json:"notificationCount"`
	CustomFields      FieldTable `json:"customFields"`
}

// AccountData is the accrual query result for one account. The
// OptionalObject table carries the payment status row.
type AccountData struct {
	Items             []AccrualItem `json:"items"`
	OptionalObject    FieldTable    `json:"optionalObject"`
	NotificationCount int           `json:"notificationCount"`
}

type AccrualItem struct {
	ObjectID        ObjectID   `json:"objectId"`
	CommunalAccount ObjectID   `json:"communalAccount"`
	ListFields      FieldTable `json:"listFields"`
}

// MeterItem is one entry of the Meter object list.
type MeterItem struct {
	ObjectID              ObjectID       `json:"objectId"`
	Type                  ObjectID       `json:"type"`
	LastMeterValue        LastMeterValue `json:"lastMeterValue"`
	DataTitleCustomFields FieldTable     `json:"dataTitleCustomFields"`
}

// LastMeterValue is the meter's most recent reading as shown in lists.
type LastMeterValue struct {
	ListValue string `json:"listValue"`
	DateList  string `json:"dateList"`
}

// MeterValueItem is one entry of the MeterValue (history) object list.
type MeterValueItem struct {
	Value1   struct {
		Value string `json:"value"`
	} `json:"value1"`
	DateList string `json:"dateList"`
}

// RequestItem is one entry of the CommunalRequest object list.
type RequestItem struct {
	ObjectID ObjectID `json:"objectId"`
	Status   ObjectID `json:"status"`
}

// CameraItem is one camera from StreamCameraList. VideoURL points at a
// secondary endpoint that resolves to the actual stream URL.
type CameraItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Preview  string `json:"preview"`
	VideoURL string `json:"videoUrl"`
}

// MainPassData is the resident's access-control credential.
type MainPassData struct {
	PIN  string `json:"pin"`
	QR   string `json:"qr"`
	Text string `json:"text"`
}

// GuestPassData is the GuestPass object list payload.
type GuestPassData struct {
	Count int             `json:"count"`
	Items []GuestPassItem `json:"items"`
}

type GuestPassItem struct {
	Strategy ObjectID `json:"strategy"`
	DateFrom int64    `json:"dateFrom"`
	DateTo   int64    `json:"dateTo"`
	PIN      string   `json:"pin"`
	QR       string   `json:"qr"`
}

// AuthResult carries the token pair returned by Authorize.
type AuthResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type itemsPayload[T any] struct {
	Items []T `json:"items"`
}

type camerasPayload struct {
	Cameras []CameraItem `json:"cameras"`
}
