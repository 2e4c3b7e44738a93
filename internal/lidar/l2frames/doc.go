// Package l2frames owns Layer 2 (Frames) of the LiDAR data model.
//
// Responsibilities: assembling decoded firing blocks into complete
// rotation frames for export.
// Key types: RotationBuilder, Frame.
//
// Dependency rule: L2 may depend on L1 (vlp16 packet decoding), but never
// on the playback packages that consume the exported frames.
package l2frames
