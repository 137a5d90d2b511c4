package sigcodec

import "basewall.xyz/wallsign/cidutil"

// PayloadCID returns the content identifier of an encoded payload.
func PayloadCID(data []byte) string {
	return cidutil.String(data)
}
