package vnpay

// GatewayStatus is the pair of codes a callback reports for a transaction.
type GatewayStatus struct {
	ResponseCode      string `json:"responseCode"`
	TransactionStatus string `json:"transactionStatus"`
}

// Verdict is the meaning of a GatewayStatus for order payment state.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictSuccess
	VerdictFailure
	VerdictCancelled
)

const (
	codeSuccess          = "00"
	codeCustomerCanceled = "24"
	txnStatusError       = "02"
)

// responseMessages lists the vnp_ResponseCode values the gateway documents
// for the pay command.
var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Amount deducted; transaction flagged as suspicious",
	"09": "Card or account is not registered for internet banking",
	"10": "Card or account authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Wrong one-time password",
	"24": "Customer cancelled the transaction",
	"51": "Insufficient balance",
	"65": "Daily transaction limit exceeded",
	"75": "Issuing bank is under maintenance",
	"79": "Wrong payment password entered too many times",
	"99": "Other error",
}

// ResponseMessage describes a vnp_ResponseCode for display.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Unrecognized response code"
}

// Classify maps a gateway status to a verdict. Code 07 (funds taken but
// flagged) and unlisted codes are left to manual review.
func (s GatewayStatus) Classify() Verdict {
	if s.ResponseCode == codeSuccess && s.TransactionStatus == codeSuccess {
		return VerdictSuccess
	}
	if s.ResponseCode == codeCustomerCanceled {
		return VerdictCancelled
	}
	switch s.ResponseCode {
	case "09", "10", "11", "12", "13", "51", "65", "75", "79", "99":
		return VerdictFailure
	}
	if s.ResponseCode != codeSuccess && s.TransactionStatus == txnStatusError {
		return VerdictFailure
	}
	return VerdictUnknown
}

// IPNAck is the acknowledgement body the gateway expects from the IPN URL.
type IPNAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var (
	AckConfirmed        = IPNAck{RspCode: "00", Message: "Confirm Success"}
	AckOrderNotFound    = IPNAck{RspCode: "01", Message: "Order not found"}
	AckAlreadyConfirmed = IPNAck{RspCode: "02", Message: "Order already confirmed"}
	AckInvalidAmount    = IPNAck{RspCode: "04", Message: "Invalid amount"}
	AckInvalidSignature = IPNAck{RspCode: "97", Message: "Invalid signature"}
	AckUnknownError     = IPNAck{RspCode: "99", Message: "Unknown error"}
)

// AckFor maps a verification reason to the IPN acknowledgement.
// alreadyFinal reports that the order had reached a terminal state before
// this delivery; it only matters for reasons that reach reconciliation.
func AckFor(reason Reason, alreadyFinal bool) IPNAck {
	switch reason {
	case ReasonOK, ReasonExpired:
		if alreadyFinal {
			return AckAlreadyConfirmed
		}
		return AckConfirmed
	case ReasonUnknownReference:
		return AckOrderNotFound
	case ReasonAmountMismatch:
		return AckInvalidAmount
	case ReasonSignatureMismatch:
		return AckInvalidSignature
	default:
		return AckUnknownError
	}
}
