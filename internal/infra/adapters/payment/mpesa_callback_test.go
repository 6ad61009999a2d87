//go:build !integration

package payment

import (
	"errors"
	"testing"
	"time"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 500.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const cancelledCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestParseSTKCallback_Success(t *testing.T) {
	out, err := ParseSTKCallback([]byte(successCallback))
	if err != nil {
		t.Fatalf("ParseSTKCallback: %v", err)
	}
	if out.ProviderRequestID != "ws_CO_191220191020363925" || out.MerchantRequestID != "29115-34620561-1" {
		t.Errorf("unexpected ids %+v", out)
	}
	if !out.Succeeded() || out.Status() != model.PaymentStatusSuccess {
		t.Error("expected a successful outcome")
	}
	if out.Amount != 500 || out.ReceiptNumber != "NLJ7RT61SV" || out.Destination != "254708374149" {
		t.Errorf("unexpected metadata %+v", out)
	}
	want := time.Date(2019, 12, 19, 7, 21, 15, 0, time.UTC)
	if !out.ProviderTimestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, out.ProviderTimestamp)
	}
}

func TestParseSTKCallback_Failure(t *testing.T) {
	out, err := ParseSTKCallback([]byte(cancelledCallback))
	if err != nil {
		t.Fatalf("ParseSTKCallback: %v", err)
	}
	if out.Succeeded() || out.ResultCode != 1032 || out.ResultDesc != "Request cancelled by user" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Amount != 0 || out.ReceiptNumber != "" {
		t.Errorf("expected no metadata on failure, got %+v", out)
	}
}

func TestParseSTKCallback_Unparseable(t *testing.T) {
	bodies := map[string]string{
		"not json":            `{"Body":`,
		"missing envelope":    `{"foo":"bar"}`,
		"missing result code": `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`,
		"missing request id":  `{"Body":{"stkCallback":{"ResultCode":0}}}`,
		"bad amount":          `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"lots"}]}}}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseSTKCallback([]byte(body)); !errors.Is(err, domain.ErrUnparseablePayload) {
				t.Errorf("expected ErrUnparseablePayload, got %v", err)
			}
		})
	}
}
