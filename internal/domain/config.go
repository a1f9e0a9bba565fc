package domain

// RouteConfig is the decrypted per-route configuration blob.
type RouteConfig struct {
	Credentials map[string]any `json:"credentials"`
	Webhook     WebhookConfig  `json:"webhook"`
}

type WebhookConfig struct {
	Enabled             bool                  `json:"enabled"`
	CustomPath          string                `json:"customPath,omitempty"`
	VerifyToken         string                `json:"verifyToken,omitempty"`
	SignatureValidation SignatureConfig       `json:"signatureValidation"`
	IncomingMessage     IncomingMessageConfig `json:"incomingMessage"`
	DeliveryReport      DeliveryReportConfig  `json:"deliveryReport"`
	ResponseTemplate    string                `json:"responseTemplate,omitempty"`
	ResponseStatus      int                   `json:"responseStatus,omitempty"`
}

type SignatureConfig struct {
	Enabled    bool   `json:"enabled"`
	HeaderName string `json:"headerName"`
	// Algorithm is one of sha256, sha1, md5, bearer, basic or none.
	Algorithm string `json:"algorithm"`
	Prefix    string `json:"prefix,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

type IncomingMessageConfig struct {
	Enabled       bool   `json:"enabled"`
	FromPath      string `json:"fromPath"`
	ToPath        string `json:"toPath,omitempty"`
	MessagePath   string `json:"messagePath"`
	TimestampPath string `json:"timestampPath,omitempty"`
	MessageIDPath string `json:"messageIdPath,omitempty"`
}

type DeliveryReportConfig struct {
	Enabled        bool                      `json:"enabled"`
	MessageIDPath  string                    `json:"messageIdPath"`
	StatusPath     string                    `json:"statusPath"`
	StatusMapping  map[string]DeliveryStatus `json:"statusMapping"`
	ErrorPath      string                    `json:"errorPath,omitempty"`
	ExternalIDPath string                    `json:"externalIdPath,omitempty"`
	TimestampPath  string                    `json:"timestampPath,omitempty"`
}
