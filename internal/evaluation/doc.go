// Package evaluation implements the scoring pipeline a verifier runs over a
// single PoA package. Five stages run in a fixed order (structure, content,
// evidence, aggregation, reason) and each stage writes only its own fields of
// the Result. The weights and thresholds come from a specialization profile
// resolved once when the Engine is constructed.
package evaluation
