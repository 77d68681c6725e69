package types

import "strings"

// IdentityType is a kind of user identity.
type IdentityType int

const (
	IdentityOther                    IdentityType = 0
	IdentityCustomerID               IdentityType = 1
	IdentityFacebook                 IdentityType = 2
	IdentityTwitter                  IdentityType = 3
	IdentityGoogle                   IdentityType = 4
	IdentityMicrosoft                IdentityType = 5
	IdentityYahoo                    IdentityType = 6
	IdentityEmail                    IdentityType = 7
	IdentityFacebookCustomAudienceID IdentityType = 9
	IdentityOther2                   IdentityType = 10
	IdentityOther3                   IdentityType = 11
	IdentityOther4                   IdentityType = 12
)

var identityNames = map[IdentityType]string{
	IdentityOther:                    "other",
	IdentityCustomerID:               "customerid",
	IdentityFacebook:                 "facebook",
	IdentityTwitter:                  "twitter",
	IdentityGoogle:                   "google",
	IdentityMicrosoft:                "microsoft",
	IdentityYahoo:                    "yahoo",
	IdentityEmail:                    "email",
	IdentityFacebookCustomAudienceID: "facebookcustomaudienceid",
	IdentityOther2:                   "other2",
	IdentityOther3:                   "other3",
	IdentityOther4:                   "other4",
}

// Valid reports whether t is a known identity type.
func (t IdentityType) Valid() bool {
	_, ok := identityNames[t]
	return ok
}

// Name returns the identity key used on the wire ("customerid", "email", ...).
func (t IdentityType) Name() string {
	if n, ok := identityNames[t]; ok {
		return n
	}
	return ""
}

// ParseIdentityType maps a wire key back to its IdentityType.
func ParseIdentityType(name string) (IdentityType, bool) {
	name = strings.ToLower(name)
	for t, n := range identityNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}
