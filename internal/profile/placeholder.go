// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package profile

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"

	"github.com/darking1222/pinion-syncd/internal/models"
)

// placeholderPalette is the set of background colors for generated
// avatars. Indexed by a hash of the user id so the same id always
// renders the same color.
var placeholderPalette = []string{
	"#5865F2", "#57F287", "#FEE75C", "#EB459E", "#ED4245",
	"#3BA55D", "#FAA81A", "#9B59B6", "#E67E22", "#1ABC9C",
}

// Placeholder builds the deterministic stand-in profile returned while a
// real profile is missing or being fetched. Never cached, never
// persisted.
func Placeholder(id string) models.CachedProfile {
	return models.CachedProfile{
		ID:          id,
		AvatarURI:   placeholderAvatar(id),
		Username:    "unknown",
		DisplayName: placeholderName(id),
		Placeholder: true,
	}
}

// placeholderName derives a short display name from the id so tables of
// unresolved users stay distinguishable.
func placeholderName(id string) string {
	suffix := id
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "User " + suffix
}

// placeholderAvatar renders an initials avatar as an SVG data URI. The
// output depends only on the id.
func placeholderAvatar(id string) string {
	color := placeholderPalette[hashID(id)%uint64(len(placeholderPalette))]

	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64">`+
			`<rect width="64" height="64" fill="%s"/>`+
			`<text x="32" y="40" font-family="sans-serif" font-size="24" fill="#fff" text-anchor="middle">%s</text>`+
			`</svg>`,
		color, initials(id),
	)
	return "data:image/svg+xml;utf8," + url.PathEscape(svg)
}

// initials picks up to two leading alphanumeric characters of the id.
func initials(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
			if b.Len() >= 2 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "?"
	}
	return strings.ToUpper(b.String())
}

func hashID(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}
