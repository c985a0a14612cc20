package scopes

// ============================================================================
// DOMAIN-SPECIFIC SCOPES - ATS (Applicant Tracking System)
// ============================================================================

const ()

// DomainScopeCategories organizes domain-specific scopes
var DomainScopeCategories = map[string][]string{}

// DomainScopeDescriptions provides descriptions for domain scopes
var DomainScopeDescriptions = map[string]string{}

// DomainScopeGroups defines domain-specific role groupings
// Update DomainScopeGroups
var DomainScopeGroups = map[string][]string{}
