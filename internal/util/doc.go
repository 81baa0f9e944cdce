// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the front ends and the
// configuration layer.
//
//   - AtomicWriteFile: crash-safe file replacement, used when saving config
//   - TruncateWidth, TruncateMiddle: column-aware shortening of labels
//     such as file names and think-block previews
//   - StringWidth, PadRight: column arithmetic for aligned console output
package util
