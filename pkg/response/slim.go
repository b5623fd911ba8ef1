// Package response builds the JSON values handed to the JS client. Photos are
// left out of snapshots and fetched per student.
package response

import (
	"encoding/json"

	"github.com/kittclouds/moshaver/internal/model"
	"github.com/kittclouds/moshaver/pkg/docstore"
)

// SlimStudent is a student without the inline photo.
type SlimStudent struct {
	model.Student
	PhotoURL string `json:"photoUrl,omitempty"`
	HasPhoto bool   `json:"hasPhoto"`
}

// SlimSnapshot mirrors docstore.Snapshot with slim students. Settings never
// carry the cloud key or the password hash.
type SlimSnapshot struct {
	docstore.Snapshot
	Students []SlimStudent `json:"students"`
}

// FromSnapshot converts s. The caller's snapshot is not modified.
func FromSnapshot(s docstore.Snapshot) SlimSnapshot {
	out := SlimSnapshot{Snapshot: s, Students: make([]SlimStudent, len(s.Students))}
	for i, st := range s.Students {
		out.Students[i] = SlimStudent{Student: st, HasPhoto: st.PhotoURL != ""}
	}
	out.Settings.CloudKey = ""
	out.Settings.PasswordHash = ""
	return out
}

// MarshalSnapshot encodes the slim form of s.
func MarshalSnapshot(s docstore.Snapshot) ([]byte, error) {
	return json.Marshal(FromSnapshot(s))
}
