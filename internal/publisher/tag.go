package publisher

import (
	"fmt"
	"strings"
)

const (
	// DefaultTag is applied when no tag is configured
	DefaultTag = "latest"

	// DefaultDomainSuffix is the DNS suffix of commercial AWS regions
	DefaultDomainSuffix = "amazonaws.com"
)

// RegistryHost returns the ECR registry endpoint for an account and region
func RegistryHost(accountID, region, domainSuffix string) string {
	if domainSuffix == "" {
		domainSuffix = DefaultDomainSuffix
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.%s", accountID, region, domainSuffix)
}

// FullyQualifiedTag returns the remote image name,
// e.g. 123456789012.dkr.ecr.us-west-2.amazonaws.com/demo-app:latest
func FullyQualifiedTag(accountID, region, domainSuffix, appName, tag string) string {
	return RegistryHost(accountID, region, domainSuffix) + "/" + LocalReference(appName, tag)
}

// LocalReference returns name:tag, defaulting the tag to latest
func LocalReference(appName, tag string) string {
	if tag == "" {
		tag = DefaultTag
	}
	return strings.ToLower(appName) + ":" + tag
}
