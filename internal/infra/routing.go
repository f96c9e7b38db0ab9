package infra

import (
	"strings"

	"kit-adapter-aws/pkg/lambda"
)

// Origins a rule can target
const (
	OriginServer      = "server"
	OriginClient      = "client"
	OriginPrerendered = "prerendered"
)

// Rule kinds
const (
	RuleAppDir      = "app"
	RuleAsset       = "asset"
	RulePrerendered = "prerendered"
)

// Cache-control values written on uploaded objects
const (
	ClientCacheControl      = "public, max-age=172800, s-maxage=172800, immutable"
	PrerenderedCacheControl = "public, max-age=120, s-maxage=120"
)

// Managed CloudFront policies
const (
	CachingOptimizedPolicyID          = "658327ea-f89d-4fab-a63d-7e88639e58f6"
	CachingDisabledPolicyID           = "4135ea2d-6df8-44a3-9df3-4b5a84be39ad"
	AllViewerExceptHostHeaderPolicyID = "b689b0a8-53d0-40ab-baf2-68738e2966ac"
)

// excludedAssets are never routed. A manifest entry must equal one of them,
// ignoring case.
var excludedAssets = map[string]bool{
	".ds_store": true,
}

// Rule routes one CloudFront path pattern to an origin
type Rule struct {
	PathPattern string
	Origin      string
	Kind        string
}

// Excluded reports whether an asset is skipped by the routing rules
func Excluded(asset string) bool {
	return excludedAssets[strings.ToLower(strings.TrimPrefix(asset, "/"))]
}

// RoutingRules derives the CDN cache behaviors from a manifest. The app
// directory and every static asset go to the client origin, prerendered
// paths to the prerendered origin. Anything unmatched falls through to the
// default behavior, which targets the server. The root path always belongs
// to the default behavior.
func RoutingRules(manifest *lambda.Manifest, appDir, base string) []Rule {
	base = strings.Trim(base, "/")
	appDir = strings.Trim(appDir, "/")
	if appDir == "" {
		appDir = "_app"
	}

	seen := map[string]bool{}
	var rules []Rule
	add := func(pattern, origin, kind string) {
		if pattern == "" || seen[pattern] {
			return
		}
		seen[pattern] = true
		rules = append(rules, Rule{PathPattern: pattern, Origin: origin, Kind: kind})
	}

	add(withBase(base, appDir)+"/*", OriginClient, RuleAppDir)

	if manifest == nil {
		return rules
	}

	for _, asset := range manifest.Assets {
		if Excluded(asset) {
			continue
		}
		add(withBase(base, strings.TrimPrefix(asset, "/")), OriginClient, RuleAsset)
	}

	for _, route := range manifest.Prerendered {
		if route == "/" {
			continue
		}
		add(strings.TrimPrefix(route, "/"), OriginPrerendered, RulePrerendered)
	}

	return rules
}

func withBase(base, p string) string {
	if base == "" {
		return p
	}
	return base + "/" + p
}
