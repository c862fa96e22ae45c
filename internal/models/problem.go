package models

import (
	"fmt"
	"slices"
)

// Problem describes a Codeforces problem.
type Problem struct {
	ID        string   `json:"id" bson:"id"`
	ContestID int      `json:"contestId" bson:"contestId"`
	Index     string   `json:"index" bson:"index"`
	Name      string   `json:"name" bson:"name"`
	Rating    int      `json:"rating" bson:"rating"`
	Tags      []string `json:"tags" bson:"tags"`
	Link      string   `json:"link" bson:"link"`
}

// ProblemID builds the "contestId-index" key used for accepted sets.
func ProblemID(contestID int, index string) string {
	return fmt.Sprintf("%d-%s", contestID, index)
}

// HasTags reports whether every tag in want is present on the problem.
func (p Problem) HasTags(want []string) bool {
	for _, t := range want {
		if !slices.Contains(p.Tags, t) {
			return false
		}
	}
	return true
}
