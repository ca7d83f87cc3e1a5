// Package datasource supplies the inventory scans a worker packages into a
// PoA submission. FileSource replays a recorded scan from disk and
// SimulatedSource generates seeded scans for a fixed catalogue under named
// stock scenarios, including anomaly detection and a verification quality
// rating.
package datasource
