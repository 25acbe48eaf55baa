package fediverse

import "context"

// Family identifies which login handshake a remote server speaks.
type Family string

const (
	FamilyMisskey  Family = "misskey"
	FamilyMastodon Family = "mastodon"
)

const nodeInfoRel = "http://nodeinfo.diaspora.software/ns/schema/2.0"

// Server software that speaks the Misskey handshake. Everything else that
// publishes nodeinfo is assumed to speak the Mastodon OAuth flow.
var misskeyLikeSoftware = map[string]bool{
	"misskey":    true,
	"cherrypick": true,
	"castella":   true,
}

type nodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type nodeInfoIndex struct {
	Links []nodeInfoLink `json:"links"`
}

type nodeInfo struct {
	Software struct {
		Name string `json:"name"`
	} `json:"software"`
}

// DetectFamily resolves the protocol family of hostname by following the
// nodeinfo discovery document. It fails soft: any network or parse problem
// yields ErrNotDetected rather than a fatal error.
func (c *Client) DetectFamily(ctx context.Context, hostname string) (Family, error) {
	var index nodeInfoIndex
	if err := c.getJSON(ctx, c.instanceURL(hostname, "/.well-known/nodeinfo"), &index); err != nil {
		return "", ErrNotDetected
	}

	var href string
	for _, link := range index.Links {
		if link.Rel == nodeInfoRel {
			href = link.Href
			break
		}
	}
	if href == "" {
		return "", ErrNotDetected
	}

	var info nodeInfo
	if err := c.getJSON(ctx, href, &info); err != nil {
		return "", ErrNotDetected
	}
	if info.Software.Name == "" {
		return "", ErrNotDetected
	}

	if misskeyLikeSoftware[info.Software.Name] {
		return FamilyMisskey, nil
	}
	return FamilyMastodon, nil
}
