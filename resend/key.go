// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package resend

import "strings"

// messageKey correlates a sent message with its eventual acknowledgment.
// The destination part is empty when destination filtering is disabled, in
// which case two sends of the same id to different destinations collapse
// onto one tracked entry. Comparison is case-insensitive over the rendered
// string forms.
type messageKey struct {
	id   string
	dest string
}

func newMessageKey(id, dest string) messageKey {
	return messageKey{
		id:   strings.ToLower(id),
		dest: strings.ToLower(dest),
	}
}

// String renders the key for logging.
func (k messageKey) String() string {
	if k.dest == "" {
		return k.id
	}
	return k.id + ":" + k.dest
}
