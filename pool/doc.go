// Package pool
// Author: momentics <momentics@gmail.com>
//
// Bounded object pools for the I/O runtime.
//
// Three interchangeable backing strategies share the api.Pool contract:
//   - Simple: one mutex, one bounded LIFO stack.
//   - Sharded: N Simple pools; each worker is bound to one shard explicitly
//     (Sharded.Assign or Sharded.Shard) and keeps it.
//   - Reclaimable: entries held through weak pointers so the collector can take
//     them back; a collected entry is a miss.
//
// Objects are created, validated and cleared by an api.ObjectManager. Free never
// fails: objects with the wrong shape or arriving at a full pool are discarded
// and only show up in Stats. BufferManager manages fixed-size Buffers used for
// socket I/O.
package pool
