package model

import (
	"fmt"
	"unicode/utf8"
)

// maxCommentLen is the broker-side limit on order comments.
const maxCommentLen = 128

// TrackingComment builds the provenance prefix recorded on every created
// order: [ACC:<id>/EXP:<id>/TR:<id>/ORD:<id>] <original comment>. Unknown
// ids are written as "-". The result is truncated from the tail to the
// broker limit, on a rune boundary, so the prefix always survives.
func TrackingComment(accountID, expertID, transactionID, orderID, comment string) string {
	prefix := fmt.Sprintf("[ACC:%s/EXP:%s/TR:%s/ORD:%s]",
		orDash(accountID), orDash(expertID), orDash(transactionID), orDash(orderID))

	out := prefix
	if comment != "" {
		out = prefix + " " + comment
	}
	if len(out) > maxCommentLen {
		cut := maxCommentLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
