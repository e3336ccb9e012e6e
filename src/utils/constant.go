package utils

// -----------------------------------------------------------------------------

// KRX regular session, in minutes after midnight KST.
const (
	SessionOpenMinute  = 9 * 60
	SessionCloseMinute = 15*60 + 30
)

// KIS date and time layouts.
const (
	KISDateLayout = "20060102"
	KISTimeLayout = "150405"
)

const DefaultTimezone = "Asia/Seoul"
