package upmodel

// VariantType identifies the push network a variant delivers through.
type VariantType string

const (
	VariantTypeIOS        VariantType = "ios"
	VariantTypeAndroid    VariantType = "android"
	VariantTypeWebPush    VariantType = "web_push"
	VariantTypeADM        VariantType = "adm"
	VariantTypeSimplePush VariantType = "simple_push"
	VariantTypeWindows    VariantType = "windows"
)

// PushApplication is an application registered with the server. It owns a set
// of variants; a push submission targets the application and fans out across
// its variants.
type PushApplication struct {
	ID       string    `json:"id" firestore:"id"`
	Name     string    `json:"name" firestore:"name"`
	Variants []Variant `json:"variants,omitempty" firestore:"-"`
}

// APNSCredentials holds the token-auth signing material for one iOS variant.
type APNSCredentials struct {
	KeyID      string `json:"keyId" firestore:"keyId"`
	TeamID     string `json:"teamId" firestore:"teamId"`
	BundleID   string `json:"bundleId" firestore:"bundleId"`
	PrivateKey string `json:"privateKey" firestore:"privateKey"`
}

// VAPIDCredentials holds the key pair for one web-push variant.
type VAPIDCredentials struct {
	PublicKey       string `json:"publicKey" firestore:"publicKey"`
	PrivateKey      string `json:"privateKey" firestore:"privateKey"`
	SubscriberEmail string `json:"subscriberEmail" firestore:"subscriberEmail"`
}

// Variant is one delivery target group within an application, e.g. the iOS
// build with its APNs key. Credentials are loaded from the store per variant,
// never from the environment.
type Variant struct {
	ID            string      `json:"id" firestore:"id"`
	ApplicationID string      `json:"applicationId" firestore:"applicationId"`
	Name          string      `json:"name" firestore:"name"`
	Type          VariantType `json:"type" firestore:"type"`
	Production    bool        `json:"production" firestore:"production"`

	APNS  *APNSCredentials  `json:"apns,omitempty" firestore:"apns,omitempty"`
	VAPID *VAPIDCredentials `json:"vapid,omitempty" firestore:"vapid,omitempty"`
}

// Installation is one device registration under a variant. The token is an
// opaque string; its validity is decided by the push network.
type Installation struct {
	VariantID   string   `json:"variantId" firestore:"variantId"`
	DeviceToken string   `json:"deviceToken" firestore:"deviceToken"`
	Alias       string   `json:"alias,omitempty" firestore:"alias,omitempty"`
	DeviceType  string   `json:"deviceType,omitempty" firestore:"deviceType,omitempty"`
	Categories  []string `json:"categories,omitempty" firestore:"categories,omitempty"`
	Enabled     bool     `json:"enabled" firestore:"enabled"`
}

// Matches reports whether the installation satisfies the submission criteria.
// The variant allow-list is applied earlier, at split time.
func (i Installation) Matches(c Criteria) bool {
	if !i.Enabled {
		return false
	}
	if len(c.Aliases) > 0 && !contains(c.Aliases, i.Alias) {
		return false
	}
	if len(c.DeviceTypes) > 0 && !contains(c.DeviceTypes, i.DeviceType) {
		return false
	}
	if len(c.Categories) > 0 {
		found := false
		for _, cat := range i.Categories {
			if contains(c.Categories, cat) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
