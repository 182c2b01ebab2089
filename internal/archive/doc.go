// Package archive packages a static build output directory into a single ZIP
// file and reads such archives back.
//
// The core components are:
//   - [Packager]: walks a directory and writes a level-9 deflate ZIP next to it,
//     gated by an explicit enable flag
//   - [Job]: the single-shot completion of one packaging run
//   - [Inspect], [Open], [Extract]: verification and read access for a finished archive
//
// Packaging treats an entry that disappears between enumeration and read as a
// warning; every other failure is fatal and is returned as an [*Error].
package archive
