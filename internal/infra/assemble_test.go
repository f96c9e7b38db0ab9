package infra

import (
	"os"
	"path/filepath"
	"testing"

	"kit-adapter-aws/pkg/lambda"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

func testOptions() StackOptions {
	return StackOptions{
		Name:         "Site",
		MemorySize:   1024,
		Timeout:      30,
		Architecture: "arm64",
		ArtifactKey:  "server.zip",
		AppDir:       "_app",
	}
}

func assembleJSON(t *testing.T, opts StackOptions, manifest *lambda.Manifest) string {
	t.Helper()
	tmpl, err := Assemble(opts, manifest)
	require.NoError(t, err)
	data, err := tmpl.JSON()
	require.NoError(t, err)
	return string(data)
}

func TestAssemble_Public(t *testing.T) {
	manifest := lambda.NewManifest([]string{"favicon.png", ".DS_Store"}, []string{"/about"})
	doc := assembleJSON(t, testOptions(), manifest)

	assert.Equal(t, "provided.al2023", gjson.Get(doc, "Resources.ServerFunction.Properties.Runtime").String())
	assert.Equal(t, "bootstrap", gjson.Get(doc, "Resources.ServerFunction.Properties.Handler").String())
	assert.Equal(t, "Prod", gjson.Get(doc, "Resources.ServerAlias.Properties.Name").String())
	assert.False(t, gjson.Get(doc, "Resources.ServerAlias.Properties.ProvisionedConcurrencyConfig").Exists())

	url := gjson.Get(doc, "Resources.ServerUrl.Properties")
	assert.Equal(t, "NONE", url.Get("AuthType").String())
	assert.Equal(t, "RESPONSE_STREAM", url.Get("InvokeMode").String())
	assert.Equal(t, "ServerAlias", url.Get("TargetFunctionArn.Ref").String())

	assert.Equal(t, "*", gjson.Get(doc, "Resources.ServerUrlPermission.Properties.Principal").String())
	assert.False(t, gjson.Get(doc, "Resources.ServerOriginAccessControl").Exists())

	config := gjson.Get(doc, "Resources.Distribution.Properties.DistributionConfig")
	assert.Equal(t, "http2and3", config.Get("HttpVersion").String())
	assert.Equal(t, "server", config.Get("DefaultCacheBehavior.TargetOriginId").String())
	assert.Equal(t, CachingDisabledPolicyID, config.Get("DefaultCacheBehavior.CachePolicyId").String())
	assert.Equal(t, AllViewerExceptHostHeaderPolicyID, config.Get("DefaultCacheBehavior.OriginRequestPolicyId").String())
	assert.Equal(t, "viewer-request", config.Get("DefaultCacheBehavior.FunctionAssociations.0.EventType").String())
	assert.Equal(t, "redirect-to-https", config.Get("DefaultCacheBehavior.ViewerProtocolPolicy").String())

	behaviors := config.Get("CacheBehaviors").Array()
	require.Len(t, behaviors, 3)
	assert.Equal(t, "_app/*", behaviors[0].Get("PathPattern").String())
	assert.Equal(t, "favicon.png", behaviors[1].Get("PathPattern").String())
	assert.Equal(t, "about", behaviors[2].Get("PathPattern").String())
	assert.Equal(t, "prerendered", behaviors[2].Get("TargetOriginId").String())
	assert.Equal(t, CachingOptimizedPolicyID, behaviors[0].Get("CachePolicyId").String())

	server := config.Get("Origins.0")
	assert.Equal(t, "server", server.Get("Id").String())
	assert.Equal(t, int64(2), server.Get(`DomainName.Fn::Select.0`).Int())
	assert.False(t, server.Get("OriginAccessControlId").Exists())

	cors := gjson.Get(doc, "Resources.ClientBucket.Properties.CorsConfiguration.CorsRules.0")
	assert.Equal(t, []any{"GET", "HEAD"}, cors.Get("AllowedMethods").Value())
	assert.Equal(t, []any{"*"}, cors.Get("AllowedOrigins").Value())

	assert.True(t, gjson.Get(doc, "Outputs.DistributionDomainName").Exists())
}

func TestAssemble_Signed(t *testing.T) {
	opts := testOptions()
	opts.Signed = true
	doc := assembleJSON(t, opts, nil)

	assert.Equal(t, "AWS_IAM", gjson.Get(doc, "Resources.ServerUrl.Properties.AuthType").String())
	assert.False(t, gjson.Get(doc, "Resources.ServerUrlPermission").Exists())

	oac := gjson.Get(doc, "Resources.ServerOriginAccessControl.Properties.OriginAccessControlConfig")
	assert.Equal(t, "lambda", oac.Get("OriginAccessControlOriginType").String())
	assert.Equal(t, "sigv4", oac.Get("SigningProtocol").String())

	permission := gjson.Get(doc, "Resources.ServerDistributionPermission.Properties")
	assert.Equal(t, "cloudfront.amazonaws.com", permission.Get("Principal").String())

	server := gjson.Get(doc, "Resources.Distribution.Properties.DistributionConfig.Origins.0")
	assert.True(t, server.Get("OriginAccessControlId").Exists())

	// The forwarded host is still injected before signing.
	assert.Equal(t, "viewer-request",
		gjson.Get(doc, "Resources.Distribution.Properties.DistributionConfig.DefaultCacheBehavior.FunctionAssociations.0.EventType").String())
}

func TestAssemble_DomainsAndConcurrency(t *testing.T) {
	opts := testOptions()
	opts.DomainNames = []string{"example.com"}
	opts.CertificateArn = "arn:aws:acm:us-east-1:123456789012:certificate/abc"
	opts.ProvisionedConcurrency = 2
	opts.Environment = map[string]string{"PUBLIC_NAME": "site"}
	doc := assembleJSON(t, opts, nil)

	config := gjson.Get(doc, "Resources.Distribution.Properties.DistributionConfig")
	assert.Equal(t, "example.com", config.Get("Aliases.0").String())
	assert.Equal(t, opts.CertificateArn, config.Get("ViewerCertificate.AcmCertificateArn").String())

	assert.Equal(t, int64(2), gjson.Get(doc,
		"Resources.ServerAlias.Properties.ProvisionedConcurrencyConfig.ProvisionedConcurrentExecutions").Int())
	assert.Equal(t, "site", gjson.Get(doc,
		"Resources.ServerFunction.Properties.Environment.Variables.PUBLIC_NAME").String())
	assert.Equal(t, "https://example.com", gjson.Get(doc,
		"Resources.PrerenderedBucket.Properties.CorsConfiguration.CorsRules.0.AllowedOrigins.0").String())
}

func TestAssemble_VersionFollowsArtifact(t *testing.T) {
	first := NewArtifact([]byte("build one"))
	second := NewArtifact([]byte("build two"))

	version := func(a Artifact) gjson.Result {
		opts := testOptions()
		opts.ArtifactKey = a.Key
		opts.ArtifactSha256 = a.Sha256
		return gjson.Get(assembleJSON(t, opts, nil), "Resources.ServerVersion")
	}

	v1, v2 := version(first), version(second)
	assert.NotEqual(t, v1.Raw, v2.Raw)
	assert.Equal(t, first.Sha256, v1.Get("Properties.CodeSha256").String())
	assert.Equal(t, second.Key, v2.Get("Properties.Description").String())
	assert.Equal(t, v1.Raw, version(first).Raw)

	opts := testOptions()
	opts.ArtifactKey = "releases/v2/server.zip"
	keyed := gjson.Get(assembleJSON(t, opts, nil), "Resources.ServerVersion")
	assert.False(t, keyed.Get("Properties.CodeSha256").Exists())
	assert.NotEqual(t, gjson.Get(assembleJSON(t, testOptions(), nil), "Resources.ServerVersion").Raw, keyed.Raw)
}

func TestNewArtifact(t *testing.T) {
	a := NewArtifact([]byte("package"))
	assert.Regexp(t, `^server-[0-9a-f]{12}\.zip$`, a.Key)
	assert.Len(t, a.Sha256, 44)
	assert.Equal(t, int64(7), a.Size)
	assert.Equal(t, a, NewArtifact([]byte("package")))
	assert.NotEqual(t, a.Key, NewArtifact([]byte("package2")).Key)

	file := filepath.Join(t.TempDir(), "server.zip")
	require.NoError(t, os.WriteFile(file, []byte("package"), 0644))
	read, err := ReadArtifact(file)
	require.NoError(t, err)
	assert.Equal(t, a, read)

	_, err = ReadArtifact(filepath.Join(t.TempDir(), "missing.zip"))
	assert.Error(t, err)
}

func TestAssemble_InvalidOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*StackOptions)
	}{
		{"missing name", func(o *StackOptions) { o.Name = "" }},
		{"small memory", func(o *StackOptions) { o.MemorySize = 64 }},
		{"bad architecture", func(o *StackOptions) { o.Architecture = "sparc" }},
		{"domains without certificate", func(o *StackOptions) { o.DomainNames = []string{"example.com"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.modify(&opts)
			_, err := Assemble(opts, nil)
			assert.Error(t, err)
		})
	}
}

func TestTemplate_YAML(t *testing.T) {
	tmpl, err := Assemble(testOptions(), lambda.NewManifest([]string{"favicon.png"}, nil))
	require.NoError(t, err)

	data, err := tmpl.Encode("yaml")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "2010-09-09", doc["AWSTemplateFormatVersion"])

	resources, ok := doc["Resources"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, tmpl.ResourceNames(), keys(resources))

	_, err = tmpl.Encode("toml")
	assert.Error(t, err)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
