// Package objstore provides a content-addressed value store with a mutable
// entity index, a small git-like versioning engine.
//
// Values are immutable and identified by the hash of their canonical
// encoding. There are four kinds: blobs hold content, trees hold named
// references to other values, commits bind a root tree to parent commits,
// and soft references point outside the graph. Writing the same content
// twice stores one copy.
//
// An ObjectStore maps entity ids to head commits. Each Put builds a root
// tree, writes a commit chained onto the current head and moves the head by
// compare-and-swap, so concurrent writers never lose an update silently:
//
//	s, _ := objstore.Open(objstore.DefaultConfig())
//	defer s.Close()
//
//	s.Put(ctx, "greeting", "hello")
//	v, _, _ := s.Get(ctx, "greeting") // "hello"
//
//	// Structured values map onto trees of named fragments
//	s.Put(ctx, "user/42", objstore.Fields{"name": "ada", "langs": []string{"go"}})
//
//	// History is a DAG of commits
//	history, _ := s.History(ctx, "user/42")
//	old, _, _ := s.Get(ctx, "user/42", objstore.AtCommit(history[1].ID()))
//
// Lower-level access goes through the ValueStore:
//
//	vs := s.Values()
//	ref, _ := vs.PutTree(ctx, "a", "b", objstore.Child{Name: "c", Value: 3})
//	entries, _, _ := vs.GetTreeEntries(ctx, ref)
//
// With remote replication:
//
//	s, _ := objstore.Open(cfg, objstore.WithRemote("ghcr.io/acme/objects:main"))
//	s.Push(ctx)
//	result, _ := s.Pull(ctx)
package objstore
