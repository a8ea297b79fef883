package payment

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
)

var _ adapter.CheckoutGateway = (*RobokassaGateway)(nil)

// RobokassaGateway implements CheckoutGateway for Robokassa's redirect
// flow. The provider has no status-query API and never echoes our order id
// back: checkouts go out with InvId=0, and inbound callbacks are matched
// to orders by amount within the fallback window. The two truth channels
// are the ResultURL callback (signed with Password_2) and the browser
// success redirect (signed with Password_1).
type RobokassaGateway struct {
	merchantLogin string
	password1     string
	password2     string
	isTest        bool
	baseURL       string
}

func NewRobokassaGateway(merchantLogin, password1, password2 string, isTest bool) *RobokassaGateway {
	return &RobokassaGateway{
		merchantLogin: strings.TrimSpace(merchantLogin),
		password1:     strings.TrimSpace(password1),
		password2:     strings.TrimSpace(password2),
		isTest:        isTest,
		baseURL:       "https://auth.robokassa.ru/Merchant/Index.aspx",
	}
}

func (g *RobokassaGateway) Name() string { return "robokassa" }

// CreateCheckout builds the hosted checkout URL with
// SignatureValue = MD5(MerchantLogin:OutSum:InvId:Password_1).
// ExternalID stays empty; there is nothing of ours the provider will echo.
func (g *RobokassaGateway) CreateCheckout(ctx context.Context, orderID string, amount int64, description, returnURL string, meta map[string]string) (adapter.Checkout, error) {
	if amount <= 0 {
		return adapter.Checkout{}, domain.ErrInvalidAmount
	}
	outSum := model.FormatRub(amount)
	const invID = "0"
	signature := md5Hex(fmt.Sprintf("%s:%s:%s:%s", g.merchantLogin, outSum, invID, g.password1))

	q := url.Values{}
	q.Set("MerchantLogin", g.merchantLogin)
	q.Set("OutSum", outSum)
	q.Set("InvId", invID)
	q.Set("Description", description)
	q.Set("SignatureValue", signature)
	q.Set("Culture", "ru")
	q.Set("Encoding", "utf-8")
	if returnURL != "" {
		q.Set("SuccessURL", returnURL)
	}
	if g.isTest {
		q.Set("IsTest", "1")
	}

	return adapter.Checkout{URL: g.baseURL + "?" + q.Encode()}, nil
}

// QueryStatus is unsupported: Robokassa exposes no payment-status API.
func (g *RobokassaGateway) QueryStatus(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
	return "", domain.ErrUnsupported
}

// Capture is unsupported: Robokassa settles on redirect.
func (g *RobokassaGateway) Capture(ctx context.Context, externalID string) error {
	return domain.ErrUnsupported
}

// VerifySignature authenticates a ResultURL callback. rawBody is the
// canonical "OutSum:InvId" pair and the expected value is
// MD5(OutSum:InvId:Password_2) in either-case hex. OutSum is compared
// exactly as the provider sent it; Robokassa signs "199" and "199.00"
// differently, so no normalization happens here.
func (g *RobokassaGateway) VerifySignature(rawBody []byte, signature string) bool {
	return verifyMD5(string(rawBody), signature, g.password2)
}

// VerifySuccessSignature authenticates the browser success redirect, which
// Robokassa signs with Password_1 instead.
func (g *RobokassaGateway) VerifySuccessSignature(canonical, signature string) bool {
	return verifyMD5(canonical, signature, g.password1)
}

// CanonicalCallback assembles the string the verifiers expect from the
// callback form fields.
func CanonicalCallback(outSum, invID string) string {
	return outSum + ":" + invID
}

func verifyMD5(canonical, signature, password string) bool {
	if canonical == "" || signature == "" || password == "" {
		return false
	}
	want := md5Hex(canonical + ":" + password)
	got := strings.ToLower(strings.TrimSpace(signature))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
