package market

import "fmt"

// Cache keys are query signatures: endpoint plus parameters. They are internal
// to the client; nothing outside this package sees cache entries.

func projectCacheKey(slug string) string {
	return fmt.Sprintf("project:%s", slug)
}

func projectsCacheKey() string {
	return fmt.Sprintf("projects:0:%d", projectsPageLimit)
}
