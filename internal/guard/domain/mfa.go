package domain

// TOTPEnrollment is returned when a principal starts TOTP enrollment.
type TOTPEnrollment struct {
	Secret  string `json:"secret"`
	URI     string `json:"otpauth_uri"`
	QRCode  []byte `json:"qr_png"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}
