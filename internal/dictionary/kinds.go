// Package dictionary lists the fixed vocabularies clients pick from.
package dictionary

import "github.com/tinoosan/shopledger/internal/ledger"

type Def struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	// Reserved codes exist but cannot be chosen by clients.
	Reserved bool `json:"reserved"`
}

var accountKinds = []Def{
	{Code: string(ledger.AccountKindCustomer), Label: "Customer"},
	{Code: string(ledger.AccountKindSupplier), Label: "Supplier"},
	{Code: string(ledger.AccountKindCash), Label: "Cash Account", Reserved: true},
}

var paymentMethods = []Def{
	{Code: string(ledger.MethodCash), Label: "Cash"},
	{Code: string(ledger.MethodBank), Label: "Bank transfer / cheque"},
}

// AccountKinds returns a copy of the account kind vocabulary.
func AccountKinds() []Def { return append([]Def(nil), accountKinds...) }

// PaymentMethods returns a copy of the payment method vocabulary.
func PaymentMethods() []Def { return append([]Def(nil), paymentMethods...) }
