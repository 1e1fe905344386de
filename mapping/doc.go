// Package mapping converts provider-specific records to and from the
// universal work-item schema. A Mapper applies declarative field rules
// (dotted paths with optional array indices, value transforms, defaults)
// and carries per-provider lookup tables for status and priority
// normalization. Transform kinds form a closed set; custom transforms
// register through a Registry and unknown names fail fast as
// configuration errors.
package mapping
