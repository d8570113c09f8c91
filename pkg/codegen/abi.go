package codegen

import (
	"fmt"
	"io"
)

// AbiGenerator emits the C ABI header the generated program compiles
// against: the fixed value layouts, the allocator vtable, and the borrow
// table entry points that exist only under CEDAR_DEBUG_BORROW.
type AbiGenerator struct {
	w io.Writer
}

// NewAbiGenerator creates an ABI header generator.
func NewAbiGenerator(w io.Writer) *AbiGenerator {
	return &AbiGenerator{w: w}
}

func (g *AbiGenerator) emit(format string, args ...interface{}) {
	fmt.Fprintf(g.w, format, args...)
}

// GenerateHeader emits the complete ABI header. Layouts are identical in
// release and debug builds except for the fields guarded by
// CEDAR_DEBUG_BORROW; release builds carry zero debug metadata.
func (g *AbiGenerator) GenerateHeader() {
	g.emit(`/* Cedar C backend ABI, version 1 */
#ifndef CEDAR_ABI_H
#define CEDAR_ABI_H

#include <stddef.h>
#include <stdint.h>

/* Owned byte buffer. ptr == NULL is the canonical moved-out state;
 * dropping it is a no-op. */
typedef struct cedar_bytes {
    uint8_t *ptr;
    size_t   len;
#ifdef CEDAR_DEBUG_BORROW
    uint64_t dbg_aid;
#endif
} cedar_bytes_t;

/* Borrowed view. Zero-length views point at the static sentinel, never
 * at NULL and never into freed memory. */
typedef struct cedar_bytes_view {
    const uint8_t *ptr;
    size_t         len;
#ifdef CEDAR_DEBUG_BORROW
    uint64_t dbg_aid;
    uint64_t dbg_bid;
    size_t   dbg_off;
#endif
} cedar_bytes_view_t;

/* Owned growable byte vector, len <= cap. {NULL, 0, 0} is the canonical
 * moved-out state. */
typedef struct cedar_vec_u8 {
    uint8_t *data;
    size_t   len;
    size_t   cap;
#ifdef CEDAR_DEBUG_BORROW
    uint64_t dbg_aid;
#endif
} cedar_vec_u8_t;

/* Allocator vtable. The host installs one before the entry point runs;
 * every heap operation of generated code goes through it. */
typedef struct cedar_alloc_vtable {
    void *(*alloc)(size_t size, size_t align);
    void *(*realloc)(void *ptr, size_t old_size, size_t new_size);
    void  (*free)(void *ptr);
    void  (*panic)(const char *msg); /* does not return */
} cedar_alloc_vtable_t;

void cedar_rt_install(const cedar_alloc_vtable_t *vt);

/* Backing byte for zero-length views. */
extern const uint8_t cedar_sentinel[1];

/* Value layer. Constructors copy, *_drop is idempotent on the moved-out
 * state, *_free_raw releases the allocation without consuming the
 * binding. */
cedar_bytes_t cedar_bytes_new(const uint8_t *data, size_t len);
void          cedar_bytes_drop(cedar_bytes_t *b);
void          cedar_bytes_free_raw(cedar_bytes_t *b);
cedar_bytes_t cedar_concat(const uint8_t *x, size_t xn,
                           const uint8_t *y, size_t yn);

cedar_vec_u8_t cedar_vec_new(size_t cap);
void           cedar_vec_push(cedar_vec_u8_t *v, uint8_t b);
void           cedar_vec_append(cedar_vec_u8_t *v, const uint8_t *data, size_t n);
void           cedar_vec_reserve(cedar_vec_u8_t *v, size_t n);
void           cedar_vec_drop(cedar_vec_u8_t *v);
void           cedar_vec_free_raw(cedar_vec_u8_t *v);

/* Views. Bounds are checked on creation; access checks exist only in
 * debug builds. */
cedar_bytes_view_t cedar_bytes_view(const cedar_bytes_t *b, size_t off, size_t len, int mut);
cedar_bytes_view_t cedar_vec_view(const cedar_vec_u8_t *v, size_t off, size_t len, int mut);
uint8_t cedar_view_get(const cedar_bytes_view_t *w, size_t i);
void    cedar_view_put(const cedar_bytes_view_t *w, size_t i, uint8_t b);
void    cedar_view_release(cedar_bytes_view_t *w);

/* Trapping integer division. */
int64_t cedar_idiv(int64_t a, int64_t b);
int64_t cedar_imod(int64_t a, int64_t b);

/* Invocation output: consumes the value. */
void cedar_out_bytes(cedar_bytes_t *b);
void cedar_out_vec(cedar_vec_u8_t *v);

#ifdef CEDAR_DEBUG_BORROW
/* Borrow table entry points. Absent from release builds entirely. */
uint64_t cedar_dbg_register(size_t size);
void     cedar_dbg_unregister(uint64_t aid);
uint64_t cedar_dbg_acquire(uint64_t aid, int mut, size_t off, size_t len);
void     cedar_dbg_release(uint64_t bid);
void     cedar_dbg_check(uint64_t bid, int write, size_t off, size_t len);
#endif

/* Move glue. A move is a bit-copy followed by writing the canonical
 * moved-out state through the source pointer. */
static inline cedar_bytes_t cedar_bytes_move(cedar_bytes_t *src) {
    cedar_bytes_t out = *src;
    src->ptr = NULL;
    src->len = 0;
#ifdef CEDAR_DEBUG_BORROW
    src->dbg_aid = 0;
#endif
    return out;
}

static inline cedar_vec_u8_t cedar_vec_move(cedar_vec_u8_t *src) {
    cedar_vec_u8_t out = *src;
    src->data = NULL;
    src->len = 0;
    src->cap = 0;
#ifdef CEDAR_DEBUG_BORROW
    src->dbg_aid = 0;
#endif
    return out;
}

#endif /* CEDAR_ABI_H */
`)
}
