package codegen

import (
	"fmt"
	"io"
)

// RuntimeGenerator emits the C99 definitions for everything the ABI
// header declares: a default allocator vtable, the value layer, views,
// trapping arithmetic, output, and the debug borrow table under
// CEDAR_DEBUG_BORROW. The output is one translation unit that, together
// with the header and an emitted program, links into a runnable binary.
type RuntimeGenerator struct {
	w io.Writer
}

// NewRuntimeGenerator creates a runtime generator.
func NewRuntimeGenerator(w io.Writer) *RuntimeGenerator {
	return &RuntimeGenerator{w: w}
}

func (g *RuntimeGenerator) emit(format string, args ...interface{}) {
	fmt.Fprintf(g.w, format, args...)
}

// GenerateRuntime emits the complete runtime translation unit.
func (g *RuntimeGenerator) GenerateRuntime() {
	g.GeneratePrelude()
	g.GenerateDebugTable()
	g.GenerateBytes()
	g.GenerateVec()
	g.GenerateViews()
	g.GenerateArithmetic()
	g.GenerateOutput()
}

// GeneratePrelude emits the includes, the sentinel, the vtable slot, and
// the default allocator. The default allocator keeps a live-block
// registry so the misuse the interpreter traps on, double free and use
// after a raw free, aborts with the same fixed message instead of being
// undefined behavior.
func (g *RuntimeGenerator) GeneratePrelude() {
	g.emit(`/* Cedar C runtime, version 1 */
#include "cedar_abi.h"

#include <stdio.h>
#include <stdlib.h>
#include <string.h>

const uint8_t cedar_sentinel[1] = {0};

static void cedar_default_panic(const char *msg) {
    fprintf(stderr, "trap: %%s\n", msg);
    exit(1);
}

/* Live-block registry for the default allocator. Registry storage is
 * host memory and never appears in program accounting. */
typedef struct {
    void  *ptr;
    size_t size;
    int    live;
} cedar_rt_block_t;

static cedar_rt_block_t *cedar_rt_blocks    = NULL;
static size_t            cedar_rt_nblocks   = 0;
static size_t            cedar_rt_capblocks = 0;

static void cedar_rt_track(void *ptr, size_t size) {
    if (cedar_rt_nblocks == cedar_rt_capblocks) {
        size_t ncap = cedar_rt_capblocks ? cedar_rt_capblocks * 2 : 64;
        cedar_rt_blocks = (cedar_rt_block_t *)realloc(
            cedar_rt_blocks, ncap * sizeof(cedar_rt_block_t));
        if (!cedar_rt_blocks) cedar_default_panic("out of memory");
        cedar_rt_capblocks = ncap;
    }
    cedar_rt_blocks[cedar_rt_nblocks].ptr  = ptr;
    cedar_rt_blocks[cedar_rt_nblocks].size = size;
    cedar_rt_blocks[cedar_rt_nblocks].live = 1;
    cedar_rt_nblocks++;
}

static cedar_rt_block_t *cedar_rt_find_live(void *ptr) {
    size_t i = cedar_rt_nblocks;
    while (i > 0) {
        i--;
        if (cedar_rt_blocks[i].live && cedar_rt_blocks[i].ptr == ptr)
            return &cedar_rt_blocks[i];
    }
    return NULL;
}

static void *cedar_default_alloc(size_t size, size_t align) {
    void *p;
    (void)align;
    if (size == 0) size = 1;
    p = malloc(size);
    if (!p) cedar_default_panic("out of memory");
    cedar_rt_track(p, size);
    return p;
}

/* A reallocation is a new block identity: the old block dies, the prefix
 * is carried over, and a later free of the old pointer is a double free. */
static void *cedar_default_realloc(void *ptr, size_t old_size, size_t new_size) {
    void *np = cedar_default_alloc(new_size, 1);
    if (ptr) {
        cedar_rt_block_t *b = cedar_rt_find_live(ptr);
        if (!b) cedar_default_panic("double free");
        memcpy(np, ptr, old_size < new_size ? old_size : new_size);
        b->live = 0;
        free(ptr);
    }
    return np;
}

static void cedar_default_free(void *ptr) {
    cedar_rt_block_t *b;
    if (!ptr) return;
    b = cedar_rt_find_live(ptr);
    if (!b) cedar_default_panic("double free");
    b->live = 0;
    free(ptr);
}

static cedar_alloc_vtable_t cedar_rt = {
    cedar_default_alloc,
    cedar_default_realloc,
    cedar_default_free,
    cedar_default_panic,
};

void cedar_rt_install(const cedar_alloc_vtable_t *vt) {
    cedar_rt = *vt;
}

`)
}

// GenerateDebugTable emits the dynamic borrow checker. IDs are dense and
// 1-based; records are never reused within an invocation, so a stale ID
// always names the exact allocation or borrow it was issued for.
func (g *RuntimeGenerator) GenerateDebugTable() {
	g.emit(`#ifdef CEDAR_DEBUG_BORROW
/* Debug borrow table. Table storage is host memory, not program heap. */
typedef struct {
    size_t size;
    int    live;
} cedar_dbg_alloc_t;

typedef struct {
    uint64_t aid;
    int      mut;
    size_t   off;
    size_t   len;
    int      live;
} cedar_dbg_borrow_t;

static cedar_dbg_alloc_t  *cedar_dbg_allocs   = NULL;
static uint64_t            cedar_dbg_nallocs  = 0;
static uint64_t            cedar_dbg_caps     = 0;
static cedar_dbg_borrow_t *cedar_dbg_borrows  = NULL;
static uint64_t            cedar_dbg_nborrows = 0;
static uint64_t            cedar_dbg_capb     = 0;

static cedar_dbg_alloc_t *cedar_dbg_alloc_at(uint64_t aid) {
    if (aid == 0 || aid > cedar_dbg_nallocs) return NULL;
    return &cedar_dbg_allocs[aid - 1];
}

static cedar_dbg_borrow_t *cedar_dbg_borrow_at(uint64_t bid) {
    if (bid == 0 || bid > cedar_dbg_nborrows) return NULL;
    return &cedar_dbg_borrows[bid - 1];
}

uint64_t cedar_dbg_register(size_t size) {
    if (cedar_dbg_nallocs == cedar_dbg_caps) {
        uint64_t ncap = cedar_dbg_caps ? cedar_dbg_caps * 2 : 64;
        cedar_dbg_allocs = (cedar_dbg_alloc_t *)realloc(
            cedar_dbg_allocs, (size_t)ncap * sizeof(cedar_dbg_alloc_t));
        if (!cedar_dbg_allocs) cedar_rt.panic("out of memory");
        cedar_dbg_caps = ncap;
    }
    cedar_dbg_allocs[cedar_dbg_nallocs].size = size;
    cedar_dbg_allocs[cedar_dbg_nallocs].live = 1;
    cedar_dbg_nallocs++;
    return cedar_dbg_nallocs;
}

void cedar_dbg_unregister(uint64_t aid) {
    uint64_t i;
    cedar_dbg_alloc_t *a = cedar_dbg_alloc_at(aid);
    if (!a) cedar_rt.panic("free of unknown allocation");
    if (!a->live) cedar_rt.panic("double free");
    for (i = 0; i < cedar_dbg_nborrows; i++) {
        if (cedar_dbg_borrows[i].live && cedar_dbg_borrows[i].aid == aid)
            cedar_rt.panic("free while borrowed");
    }
    a->live = 0;
}

uint64_t cedar_dbg_acquire(uint64_t aid, int mut, size_t off, size_t len) {
    uint64_t i;
    cedar_dbg_alloc_t *a = cedar_dbg_alloc_at(aid);
    if (!a) cedar_rt.panic("borrow of unknown allocation");
    if (!a->live) cedar_rt.panic("borrow of freed allocation");
    if (off + len > a->size) cedar_rt.panic("borrow range out of bounds");
    for (i = 0; i < cedar_dbg_nborrows; i++) {
        cedar_dbg_borrow_t *b = &cedar_dbg_borrows[i];
        if (!b->live || b->aid != aid) continue;
        if (b->mut && mut)
            cedar_rt.panic("conflicting borrow: already mutably borrowed");
        if (b->mut)
            cedar_rt.panic("conflicting borrow: shared while mutably borrowed");
        if (mut)
            cedar_rt.panic("conflicting borrow: mutable while shared");
    }
    if (cedar_dbg_nborrows == cedar_dbg_capb) {
        uint64_t ncap = cedar_dbg_capb ? cedar_dbg_capb * 2 : 64;
        cedar_dbg_borrows = (cedar_dbg_borrow_t *)realloc(
            cedar_dbg_borrows, (size_t)ncap * sizeof(cedar_dbg_borrow_t));
        if (!cedar_dbg_borrows) cedar_rt.panic("out of memory");
        cedar_dbg_capb = ncap;
    }
    cedar_dbg_borrows[cedar_dbg_nborrows].aid  = aid;
    cedar_dbg_borrows[cedar_dbg_nborrows].mut  = mut;
    cedar_dbg_borrows[cedar_dbg_nborrows].off  = off;
    cedar_dbg_borrows[cedar_dbg_nborrows].len  = len;
    cedar_dbg_borrows[cedar_dbg_nborrows].live = 1;
    cedar_dbg_nborrows++;
    return cedar_dbg_nborrows;
}

void cedar_dbg_release(uint64_t bid) {
    cedar_dbg_borrow_t *b = cedar_dbg_borrow_at(bid);
    if (!b) cedar_rt.panic("release of unknown borrow");
    if (!b->live) cedar_rt.panic("release of already released borrow");
    b->live = 0;
}

void cedar_dbg_check(uint64_t bid, int write, size_t off, size_t len) {
    cedar_dbg_borrow_t *b = cedar_dbg_borrow_at(bid);
    cedar_dbg_alloc_t *a;
    if (!b) cedar_rt.panic("access through unknown borrow");
    if (!b->live) cedar_rt.panic("access after release");
    if (off + len > b->len) cedar_rt.panic("access outside borrowed range");
    if (write && !b->mut) cedar_rt.panic("write through shared borrow");
    a = cedar_dbg_alloc_at(b->aid);
    if (!a || !a->live) cedar_rt.panic("access into freed allocation");
}
#endif /* CEDAR_DEBUG_BORROW */

`)
}

// GenerateBytes emits the owned byte buffer operations. A zero-length
// value holds no allocation; NULL ptr with len 0 is both the empty and
// the moved-out state, and drop is a no-op on it.
func (g *RuntimeGenerator) GenerateBytes() {
	g.emit(`cedar_bytes_t cedar_bytes_new(const uint8_t *data, size_t len) {
    cedar_bytes_t b;
    b.ptr = NULL;
    b.len = len;
#ifdef CEDAR_DEBUG_BORROW
    b.dbg_aid = 0;
#endif
    if (len > 0) {
        b.ptr = (uint8_t *)cedar_rt.alloc(len, 1);
        memcpy(b.ptr, data, len);
#ifdef CEDAR_DEBUG_BORROW
        b.dbg_aid = cedar_dbg_register(len);
#endif
    }
    return b;
}

void cedar_bytes_drop(cedar_bytes_t *b) {
    if (b->ptr == NULL) return;
#ifdef CEDAR_DEBUG_BORROW
    if (b->dbg_aid) cedar_dbg_unregister(b->dbg_aid);
    b->dbg_aid = 0;
#endif
    cedar_rt.free(b->ptr);
    b->ptr = NULL;
    b->len = 0;
}

/* Releases the allocation without consuming the binding; the scheduled
 * scope drop still runs and hits the allocator's double-free check. */
void cedar_bytes_free_raw(cedar_bytes_t *b) {
    if (b->ptr == NULL) return;
#ifdef CEDAR_DEBUG_BORROW
    if (b->dbg_aid) cedar_dbg_unregister(b->dbg_aid);
#endif
    cedar_rt.free(b->ptr);
}

cedar_bytes_t cedar_concat(const uint8_t *x, size_t xn,
                           const uint8_t *y, size_t yn) {
    cedar_bytes_t b;
    b.ptr = NULL;
    b.len = xn + yn;
#ifdef CEDAR_DEBUG_BORROW
    b.dbg_aid = 0;
#endif
    if (b.len > 0) {
        b.ptr = (uint8_t *)cedar_rt.alloc(b.len, 1);
        memcpy(b.ptr, x, xn);
        memcpy(b.ptr + xn, y, yn);
#ifdef CEDAR_DEBUG_BORROW
        b.dbg_aid = cedar_dbg_register(b.len);
#endif
    }
    return b;
}

`)
}

// GenerateVec emits the growable vector operations. Growth reallocates
// under a fresh allocation identity, so growing a vector that is still
// borrowed is a free-while-borrowed violation in debug builds.
func (g *RuntimeGenerator) GenerateVec() {
	g.emit(`cedar_vec_u8_t cedar_vec_new(size_t cap) {
    cedar_vec_u8_t v;
    v.data = NULL;
    v.len = 0;
    v.cap = cap;
#ifdef CEDAR_DEBUG_BORROW
    v.dbg_aid = 0;
#endif
    if (cap > 0) {
        v.data = (uint8_t *)cedar_rt.alloc(cap, 1);
#ifdef CEDAR_DEBUG_BORROW
        v.dbg_aid = cedar_dbg_register(cap);
#endif
    }
    return v;
}

static void cedar_vec_grow(cedar_vec_u8_t *v, size_t need) {
    size_t ncap;
    if (need <= v->cap) return;
    ncap = v->cap < 4 ? 4 : v->cap;
    while (ncap < need) ncap *= 2;
#ifdef CEDAR_DEBUG_BORROW
    if (v->dbg_aid) cedar_dbg_unregister(v->dbg_aid);
#endif
    v->data = (uint8_t *)cedar_rt.realloc(v->data, v->cap, ncap);
    v->cap = ncap;
#ifdef CEDAR_DEBUG_BORROW
    v->dbg_aid = cedar_dbg_register(ncap);
#endif
}

void cedar_vec_push(cedar_vec_u8_t *v, uint8_t b) {
    cedar_vec_grow(v, v->len + 1);
    v->data[v->len] = b;
    v->len++;
}

void cedar_vec_append(cedar_vec_u8_t *v, const uint8_t *data, size_t n) {
    if (n == 0) return;
    cedar_vec_grow(v, v->len + n);
    memcpy(v->data + v->len, data, n);
    v->len += n;
}

/* Exact reservation: brings cap to at least n without the doubling walk. */
void cedar_vec_reserve(cedar_vec_u8_t *v, size_t n) {
    if (n <= v->cap) return;
#ifdef CEDAR_DEBUG_BORROW
    if (v->dbg_aid) cedar_dbg_unregister(v->dbg_aid);
#endif
    v->data = (uint8_t *)cedar_rt.realloc(v->data, v->cap, n);
    v->cap = n;
#ifdef CEDAR_DEBUG_BORROW
    v->dbg_aid = cedar_dbg_register(n);
#endif
}

void cedar_vec_drop(cedar_vec_u8_t *v) {
    if (v->data == NULL) return;
#ifdef CEDAR_DEBUG_BORROW
    if (v->dbg_aid) cedar_dbg_unregister(v->dbg_aid);
    v->dbg_aid = 0;
#endif
    cedar_rt.free(v->data);
    v->data = NULL;
    v->len = 0;
    v->cap = 0;
}

void cedar_vec_free_raw(cedar_vec_u8_t *v) {
    if (v->data == NULL) return;
#ifdef CEDAR_DEBUG_BORROW
    if (v->dbg_aid) cedar_dbg_unregister(v->dbg_aid);
#endif
    cedar_rt.free(v->data);
}

`)
}

// GenerateViews emits view construction, element access, and release.
// Bounds are checked on creation in both build modes; per-access borrow
// validation exists only in debug builds, release write access having
// been proven by the static checker.
func (g *RuntimeGenerator) GenerateViews() {
	g.emit(`static cedar_bytes_view_t cedar_view_of(const uint8_t *base, size_t owner_len,
                                         size_t off, size_t len, int mut,
                                         uint64_t aid) {
    cedar_bytes_view_t w;
    if (off + len > owner_len) cedar_rt.panic("slice bounds out of range");
    w.ptr = len == 0 ? cedar_sentinel : base + off;
    w.len = len;
#ifdef CEDAR_DEBUG_BORROW
    w.dbg_aid = aid;
    w.dbg_bid = aid ? cedar_dbg_acquire(aid, mut, off, len) : 0;
    w.dbg_off = off;
#else
    (void)mut;
    (void)aid;
#endif
    return w;
}

cedar_bytes_view_t cedar_bytes_view(const cedar_bytes_t *b, size_t off,
                                    size_t len, int mut) {
#ifdef CEDAR_DEBUG_BORROW
    return cedar_view_of(b->ptr, b->len, off, len, mut, b->dbg_aid);
#else
    return cedar_view_of(b->ptr, b->len, off, len, mut, 0);
#endif
}

cedar_bytes_view_t cedar_vec_view(const cedar_vec_u8_t *v, size_t off,
                                  size_t len, int mut) {
#ifdef CEDAR_DEBUG_BORROW
    return cedar_view_of(v->data, v->len, off, len, mut, v->dbg_aid);
#else
    return cedar_view_of(v->data, v->len, off, len, mut, 0);
#endif
}

uint8_t cedar_view_get(const cedar_bytes_view_t *w, size_t i) {
#ifdef CEDAR_DEBUG_BORROW
    if (w->dbg_bid) cedar_dbg_check(w->dbg_bid, 0, i, 1);
#endif
    if (i >= w->len) cedar_rt.panic("view index out of range");
    return w->ptr[i];
}

void cedar_view_put(const cedar_bytes_view_t *w, size_t i, uint8_t b) {
#ifdef CEDAR_DEBUG_BORROW
    if (w->dbg_bid) cedar_dbg_check(w->dbg_bid, 1, i, 1);
#endif
    if (i >= w->len) cedar_rt.panic("view index out of range");
    *(uint8_t *)(w->ptr + i) = b;
}

void cedar_view_release(cedar_bytes_view_t *w) {
#ifdef CEDAR_DEBUG_BORROW
    if (w->dbg_bid) cedar_dbg_release(w->dbg_bid);
    w->dbg_bid = 0;
#endif
    w->ptr = NULL;
    w->len = 0;
}

`)
}

// GenerateArithmetic emits the trapping division helpers.
func (g *RuntimeGenerator) GenerateArithmetic() {
	g.emit(`int64_t cedar_idiv(int64_t a, int64_t b) {
    if (b == 0) cedar_rt.panic("division by zero");
    return a / b;
}

int64_t cedar_imod(int64_t a, int64_t b) {
    if (b == 0) cedar_rt.panic("division by zero");
    return a %% b;
}

`)
}

// GenerateOutput emits the output operations; both consume their value.
func (g *RuntimeGenerator) GenerateOutput() {
	g.emit(`void cedar_out_bytes(cedar_bytes_t *b) {
    if (b->len > 0) fwrite(b->ptr, 1, b->len, stdout);
    cedar_bytes_drop(b);
}

void cedar_out_vec(cedar_vec_u8_t *v) {
    if (v->len > 0) fwrite(v->data, 1, v->len, stdout);
    cedar_vec_drop(v);
}
`)
}
