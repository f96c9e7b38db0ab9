package infra

import (
	"fmt"

	"kit-adapter-aws/pkg/lambda"

	"github.com/go-playground/validator/v10"
	"github.com/lex00/cloudformation-schema-go/intrinsics"
	"github.com/sirupsen/logrus"
)

// Logical ids of the assembled resources
const (
	ServerRole              = "ServerRole"
	ServerFunction          = "ServerFunction"
	ServerVersion           = "ServerVersion"
	ServerAlias             = "ServerAlias"
	ServerURL               = "ServerUrl"
	ServerURLPermission     = "ServerUrlPermission"
	ServerOACPermission     = "ServerDistributionPermission"
	ClientBucket            = "ClientBucket"
	ClientBucketPolicy      = "ClientBucketPolicy"
	PrerenderedBucket       = "PrerenderedBucket"
	PrerenderedBucketPolicy = "PrerenderedBucketPolicy"
	ForwardedHostFunction   = "ForwardedHostFunction"
	OriginAccessControl     = "ServerOriginAccessControl"
	Distribution            = "Distribution"

	ArtifactBucketParam = "ArtifactBucket"
	ArtifactKeyParam    = "ArtifactKey"
)

// AliasName is the alias every request is routed through
const AliasName = "Prod"

// maxCacheBehaviors is the default CloudFront quota per distribution
const maxCacheBehaviors = 25

// forwardedHostCode copies the viewer host so the server can rebuild the
// public URL; the origin request carries the function URL host instead.
const forwardedHostCode = `function handler(event) {
  var request = event.request;
  request.headers["x-forwarded-host"] = request.headers["host"];
  return request;
}`

// StackOptions configures the assembled template
type StackOptions struct {
	Name                   string `validate:"required"`
	MemorySize             int    `validate:"gte=128,lte=10240"`
	Timeout                int    `validate:"gte=1,lte=900"`
	Architecture           string `validate:"oneof=arm64 x86_64"`
	ProvisionedConcurrency int    `validate:"gte=0"`
	ArtifactBucket         string
	ArtifactKey            string `validate:"required"`
	// ArtifactSha256 is the base64 SHA-256 of the package. A new value
	// publishes a new version behind the alias.
	ArtifactSha256 string
	AppDir                 string
	BasePath               string
	DomainNames            []string
	CertificateArn         string `validate:"required_with=DomainNames"`
	Environment            map[string]string
	// Signed protects the function URL with IAM and lets CloudFront sign
	// origin requests through an origin access control.
	Signed bool
}

// Assemble builds the deployment template for a packaged application
func Assemble(opts StackOptions, manifest *lambda.Manifest) (*Template, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid stack options: %w", err)
	}

	t := newTemplate(fmt.Sprintf("%s: streaming server behind CloudFront", opts.Name))
	t.Parameters[ArtifactBucketParam] = Parameter{
		Type:        "String",
		Description: "Bucket holding the server deployment package",
		Default:     opts.ArtifactBucket,
	}
	t.Parameters[ArtifactKeyParam] = Parameter{
		Type:        "String",
		Description: "Key of the server deployment package",
		Default:     opts.ArtifactKey,
	}

	addServer(t, opts)
	addBucket(t, ClientBucket, ClientBucketPolicy, opts.DomainNames)
	addBucket(t, PrerenderedBucket, PrerenderedBucketPolicy, opts.DomainNames)

	t.add(ForwardedHostFunction, "AWS::CloudFront::Function", map[string]any{
		"Name":        intrinsics.Sub{String: "${AWS::StackName}-forwarded-host"},
		"AutoPublish": true,
		"FunctionConfig": map[string]any{
			"Comment": "Copy the viewer host into x-forwarded-host",
			"Runtime": "cloudfront-js-2.0",
		},
		"FunctionCode": forwardedHostCode,
	})

	rules := RoutingRules(manifest, opts.AppDir, opts.BasePath)
	if len(rules) > maxCacheBehaviors {
		logrus.WithFields(logrus.Fields{
			"behaviors": len(rules),
			"quota":     maxCacheBehaviors,
		}).Warn("Distribution exceeds the default cache behavior quota")
	}
	addDistribution(t, opts, rules)

	t.Outputs["DistributionDomainName"] = Output{
		Description: "CloudFront domain name",
		Value:       intrinsics.GetAtt{LogicalName: Distribution, Attribute: "DomainName"},
	}
	t.Outputs["FunctionUrl"] = Output{
		Description: "Function URL of the server alias",
		Value:       intrinsics.GetAtt{LogicalName: ServerURL, Attribute: "FunctionUrl"},
	}
	t.Outputs["ClientBucketName"] = Output{Value: intrinsics.Ref{LogicalName: ClientBucket}}
	t.Outputs["PrerenderedBucketName"] = Output{Value: intrinsics.Ref{LogicalName: PrerenderedBucket}}

	logrus.WithFields(logrus.Fields{
		"resources": len(t.Resources),
		"behaviors": len(rules),
		"signed":    opts.Signed,
	}).Debug("Template assembled")

	return t, nil
}

func addServer(t *Template, opts StackOptions) {
	t.add(ServerRole, "AWS::IAM::Role", map[string]any{
		"AssumeRolePolicyDocument": map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{map[string]any{
				"Effect":    "Allow",
				"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
				"Action":    "sts:AssumeRole",
			}},
		},
		"ManagedPolicyArns": []any{
			intrinsics.Sub{String: "arn:${AWS::Partition}:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"},
		},
	})

	function := map[string]any{
		"Runtime":       "provided.al2023",
		"Handler":       "bootstrap",
		"Architectures": []any{opts.Architecture},
		"MemorySize":    opts.MemorySize,
		"Timeout":       opts.Timeout,
		"Role":          intrinsics.GetAtt{LogicalName: ServerRole, Attribute: "Arn"},
		"Code": map[string]any{
			"S3Bucket": intrinsics.Ref{LogicalName: ArtifactBucketParam},
			"S3Key":    intrinsics.Ref{LogicalName: ArtifactKeyParam},
		},
	}
	if len(opts.Environment) > 0 {
		vars := make(map[string]any, len(opts.Environment))
		for k, v := range opts.Environment {
			vars[k] = v
		}
		function["Environment"] = map[string]any{"Variables": vars}
	}
	t.add(ServerFunction, "AWS::Lambda::Function", function)

	// Any property change replaces the version, which publishes a new one.
	version := map[string]any{
		"FunctionName": intrinsics.Ref{LogicalName: ServerFunction},
		"Description":  opts.ArtifactKey,
	}
	if opts.ArtifactSha256 != "" {
		version["CodeSha256"] = opts.ArtifactSha256
	} else {
		logrus.WithField("key", opts.ArtifactKey).Warn("No package hash given, only a new artifact key publishes a new version")
	}
	t.add(ServerVersion, "AWS::Lambda::Version", version)

	alias := map[string]any{
		"Name":            AliasName,
		"FunctionName":    intrinsics.Ref{LogicalName: ServerFunction},
		"FunctionVersion": intrinsics.GetAtt{LogicalName: ServerVersion, Attribute: "Version"},
	}
	if opts.ProvisionedConcurrency > 0 {
		alias["ProvisionedConcurrencyConfig"] = map[string]any{
			"ProvisionedConcurrentExecutions": opts.ProvisionedConcurrency,
		}
	}
	t.add(ServerAlias, "AWS::Lambda::Alias", alias)

	authType := "NONE"
	if opts.Signed {
		authType = "AWS_IAM"
	}
	t.add(ServerURL, "AWS::Lambda::Url", map[string]any{
		"TargetFunctionArn": intrinsics.Ref{LogicalName: ServerAlias},
		"AuthType":          authType,
		"InvokeMode":        "RESPONSE_STREAM",
	})

	if opts.Signed {
		t.add(OriginAccessControl, "AWS::CloudFront::OriginAccessControl", map[string]any{
			"OriginAccessControlConfig": map[string]any{
				"Name":                          intrinsics.Sub{String: "${AWS::StackName}-server"},
				"OriginAccessControlOriginType": "lambda",
				"SigningBehavior":               "always",
				"SigningProtocol":               "sigv4",
			},
		})
		t.add(ServerOACPermission, "AWS::Lambda::Permission", map[string]any{
			"Action":       "lambda:InvokeFunctionUrl",
			"FunctionName": intrinsics.Ref{LogicalName: ServerAlias},
			"Principal":    "cloudfront.amazonaws.com",
			"SourceArn": intrinsics.Sub{
				String: "arn:${AWS::Partition}:cloudfront::${AWS::AccountId}:distribution/${" + Distribution + "}",
			},
		})
		return
	}

	t.add(ServerURLPermission, "AWS::Lambda::Permission", map[string]any{
		"Action":              "lambda:InvokeFunctionUrl",
		"FunctionName":        intrinsics.Ref{LogicalName: ServerAlias},
		"Principal":           "*",
		"FunctionUrlAuthType": "NONE",
	})
}

func addBucket(t *Template, bucket, policy string, domainNames []string) {
	origins := []any{"*"}
	if len(domainNames) > 0 {
		origins = make([]any, 0, len(domainNames))
		for _, name := range domainNames {
			origins = append(origins, "https://"+name)
		}
	}

	t.add(bucket, "AWS::S3::Bucket", map[string]any{
		"WebsiteConfiguration": map[string]any{
			"IndexDocument": "index.html",
		},
		"PublicAccessBlockConfiguration": map[string]any{
			"BlockPublicAcls":       false,
			"BlockPublicPolicy":     false,
			"IgnorePublicAcls":      false,
			"RestrictPublicBuckets": false,
		},
		"CorsConfiguration": map[string]any{
			"CorsRules": []any{map[string]any{
				"AllowedMethods": []any{"GET", "HEAD"},
				"AllowedOrigins": origins,
				"AllowedHeaders": []any{"*"},
			}},
		},
	})

	t.add(policy, "AWS::S3::BucketPolicy", map[string]any{
		"Bucket": intrinsics.Ref{LogicalName: bucket},
		"PolicyDocument": map[string]any{
			"Version": "2012-10-17",
			"Statement": []any{map[string]any{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource": intrinsics.Join{Delimiter: "", Values: []any{
					intrinsics.GetAtt{LogicalName: bucket, Attribute: "Arn"},
					"/*",
				}},
			}},
		},
	})
}

func addDistribution(t *Template, opts StackOptions, rules []Rule) {
	// https://<id>.lambda-url.<region>.on.aws/ -> <id>.lambda-url.<region>.on.aws
	serverDomain := intrinsics.Select{Index: 2, List: intrinsics.Split{
		Delimiter: "/",
		Source:    intrinsics.GetAtt{LogicalName: ServerURL, Attribute: "FunctionUrl"},
	}}

	server := map[string]any{
		"Id":         OriginServer,
		"DomainName": serverDomain,
		"CustomOriginConfig": map[string]any{
			"OriginProtocolPolicy": "https-only",
			"OriginSSLProtocols":   []any{"TLSv1.2"},
		},
	}
	if opts.Signed {
		server["OriginAccessControlId"] = intrinsics.GetAtt{LogicalName: OriginAccessControl, Attribute: "Id"}
	}

	defaultBehavior := map[string]any{
		"TargetOriginId":        OriginServer,
		"ViewerProtocolPolicy":  "redirect-to-https",
		"AllowedMethods":        []any{"GET", "HEAD", "OPTIONS", "PUT", "PATCH", "POST", "DELETE"},
		"CachedMethods":         []any{"GET", "HEAD"},
		"CachePolicyId":         CachingDisabledPolicyID,
		"OriginRequestPolicyId": AllViewerExceptHostHeaderPolicyID,
		"Compress":              true,
		"FunctionAssociations": []any{map[string]any{
			"EventType":   "viewer-request",
			"FunctionARN": intrinsics.GetAtt{LogicalName: ForwardedHostFunction, Attribute: "FunctionARN"},
		}},
	}

	behaviors := make([]any, 0, len(rules))
	for _, rule := range rules {
		behaviors = append(behaviors, map[string]any{
			"PathPattern":          rule.PathPattern,
			"TargetOriginId":       rule.Origin,
			"ViewerProtocolPolicy": "redirect-to-https",
			"AllowedMethods":       []any{"GET", "HEAD", "OPTIONS"},
			"CachedMethods":        []any{"GET", "HEAD"},
			"CachePolicyId":        CachingOptimizedPolicyID,
			"Compress":             true,
		})
	}

	config := map[string]any{
		"Enabled":     true,
		"HttpVersion": "http2and3",
		"Origins": []any{
			server,
			websiteOrigin(OriginClient, ClientBucket),
			websiteOrigin(OriginPrerendered, PrerenderedBucket),
		},
		"DefaultCacheBehavior": defaultBehavior,
		"CacheBehaviors":       behaviors,
	}
	if len(opts.DomainNames) > 0 {
		aliases := make([]any, 0, len(opts.DomainNames))
		for _, name := range opts.DomainNames {
			aliases = append(aliases, name)
		}
		config["Aliases"] = aliases
		config["ViewerCertificate"] = map[string]any{
			"AcmCertificateArn":      opts.CertificateArn,
			"SslSupportMethod":       "sni-only",
			"MinimumProtocolVersion": "TLSv1.2_2021",
		}
	}

	t.add(Distribution, "AWS::CloudFront::Distribution", map[string]any{
		"DistributionConfig": config,
	})
}

// websiteOrigin targets a bucket's website endpoint, which resolves
// index documents for directory paths. Website endpoints are HTTP only.
func websiteOrigin(id, bucket string) map[string]any {
	return map[string]any{
		"Id": id,
		// http://<bucket>.s3-website-<region>.amazonaws.com -> host
		"DomainName": intrinsics.Select{Index: 1, List: intrinsics.Split{
			Delimiter: "//",
			Source:    intrinsics.GetAtt{LogicalName: bucket, Attribute: "WebsiteURL"},
		}},
		"CustomOriginConfig": map[string]any{
			"OriginProtocolPolicy": "http-only",
		},
	}
}
