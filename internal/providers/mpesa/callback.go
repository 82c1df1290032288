package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Callback is the decoded stkCallback of an STK push result.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            string
	Phone             string
}

// Success reports ResultCode 0. Any other code is a failed or abandoned push.
func (c Callback) Success() bool { return c.ResultCode == 0 }

// Ack is the body the provider expects back from the callback URL.
var Ack = map[string]interface{}{"ResultCode": 0, "ResultDesc": "Accepted"}

type envelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

var ErrMalformedCallback = errors.New("mpesa: malformed callback")

// ParseCallback decodes a callback payload.
func ParseCallback(payload []byte) (Callback, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	cb := env.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		return Callback{}, fmt.Errorf("%w: missing stkCallback fields", ErrMalformedCallback)
	}

	out := Callback{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, it := range cb.CallbackMetadata.Item {
		v := scalar(it.Value)
		switch it.Name {
		case "MpesaReceiptNumber":
			out.Receipt = v
		case "Amount":
			out.Amount = v
		case "PhoneNumber":
			out.Phone = v
		}
	}
	if out.Success() && out.Receipt == "" {
		return Callback{}, fmt.Errorf("%w: successful callback without receipt", ErrMalformedCallback)
	}
	return out, nil
}

// scalar renders a JSON string or number without quotes.
func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
