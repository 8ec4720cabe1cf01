package postback

// Canonical postback field names, matched case-insensitively.
const (
	FieldSuccess     = "Success"
	FieldRespText    = "RespText"
	FieldXactID      = "XactID"
	FieldAuthCode    = "AuthCode"
	FieldAVSResp     = "AVSResp"
	FieldCVV2Resp    = "CVV2Resp"
	FieldPostbackID  = "PostbackID"
	FieldOrderID     = "OrderID"
	FieldRestrictKey = "RestrictKey"
)

// Notification is a decoded postback.
type Notification struct {
	Outcome       Outcome
	OutcomeCode   string
	KnownOutcome  bool
	ResponseText  string
	TransactionID string
	OrderID       string
	AuthCode      string
	AVSResult     string
	CVVResult     string
	Secret        string
	HasSecret     bool
}

func notificationFrom(f Fields) Notification {
	code := f.Get(FieldSuccess)
	outcome, known := ParseOutcome(code)
	secret := f.Get(FieldRestrictKey)
	return Notification{
		Outcome:       outcome,
		OutcomeCode:   code,
		KnownOutcome:  known,
		ResponseText:  f.Get(FieldRespText),
		TransactionID: f.Get(FieldXactID),
		OrderID:       f.Get(FieldPostbackID, FieldOrderID),
		AuthCode:      f.Get(FieldAuthCode),
		AVSResult:     f.Get(FieldAVSResp),
		CVVResult:     f.Get(FieldCVV2Resp),
		Secret:        secret,
		HasSecret:     secret != "",
	}
}

// missing lists the required fields n lacks.
func (n Notification) missing() []string {
	var out []string
	if n.TransactionID == "" {
		out = append(out, FieldXactID)
	}
	if n.OrderID == "" {
		out = append(out, FieldPostbackID)
	}
	return out
}
