// Package item defines the identity and state types shared by every
// lazythumb component: the Ref of a trackable file or directory, its
// materialization Status, directory snapshots, the closed MediaKind enum
// used to dispatch thumbnail generation, and the error taxonomy.
package item
