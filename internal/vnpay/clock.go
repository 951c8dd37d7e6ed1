package vnpay

import "time"

// TimestampLayout is the gateway's fixed-width yyyyMMddHHmmss layout.
const TimestampLayout = "20060102150405"

// GatewayZone is the single offset all gateway timestamps are written in.
// It is a fixed zone so formatting never depends on the host TZ or tzdata.
var GatewayZone = time.FixedZone("GMT+7", 7*60*60)

// FormatTimestamp renders t as 14 digits in GatewayZone.
func FormatTimestamp(t time.Time) string {
	return t.In(GatewayZone).Format(TimestampLayout)
}

// ParseTimestamp parses a 14-digit gateway timestamp written in GatewayZone.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, GatewayZone)
}
