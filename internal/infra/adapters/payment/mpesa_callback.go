package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
)

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback maps a Daraja STK callback body to the canonical outcome.
// Metadata items are only present on success.
func ParseSTKCallback(raw []byte) (*model.CallbackOutcome, error) {
	var env stkCallbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseablePayload, err)
	}
	cb := env.Body.StkCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", domain.ErrUnparseablePayload)
	}
	if cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID or ResultCode", domain.ErrUnparseablePayload)
	}

	out := &model.CallbackOutcome{
		ProviderRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		v := metaString(item.Value)
		switch item.Name {
		case "Amount":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: Amount %q", domain.ErrUnparseablePayload, v)
			}
			out.Amount = int64(math.Round(f))
		case "MpesaReceiptNumber":
			out.ReceiptNumber = v
		case "TransactionDate":
			if ts, err := time.ParseInLocation(stkTimestampLayout, v, eat); err == nil {
				out.ProviderTimestamp = ts.UTC()
			}
		case "PhoneNumber":
			out.Destination = v
		}
	}
	return out, nil
}

func metaString(v interface{}) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
