package profile

import "time"

// Profile is display metadata for a wallet address. Pure read-through cache:
// nothing here has authority over jobs or funds.
type Profile struct {
	Address     string
	UserType    string
	DisplayName string
	Bio         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
