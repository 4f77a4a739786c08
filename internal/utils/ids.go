package utils

import (
	"fmt"
	"strings"
)

// Compound ids use "::" as the separator: a team member id is
// "userId::teamId" and a project id is "teamId::localId".
const idSeparator = "::"

// ComposeTeamMemberID builds a team member id from its parts.
func ComposeTeamMemberID(userID, teamID string) string {
	return userID + idSeparator + teamID
}

// SplitTeamMemberID parses a compound team member id into user and team ids.
func SplitTeamMemberID(teamMemberID string) (userID, teamID string, err error) {
	parts := strings.Split(teamMemberID, idSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed team member id: %q", teamMemberID)
	}
	return parts[0], parts[1], nil
}

// TeamIDFromProjectID extracts the team id prefix from a project id.
func TeamIDFromProjectID(projectID string) (string, error) {
	idx := strings.Index(projectID, idSeparator)
	if idx <= 0 {
		return "", fmt.Errorf("malformed project id: %q", projectID)
	}
	return projectID[:idx], nil
}

// SplitRepoName parses an "owner/name" repository string.
func SplitRepoName(nameWithOwner string) (owner, name string, err error) {
	parts := strings.SplitN(nameWithOwner, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%s is not a valid repository", nameWithOwner)
	}
	return parts[0], parts[1], nil
}
