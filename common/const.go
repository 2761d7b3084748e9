package common

// On-disk layout
const (
	SUPERBLOCK_OFFSET = 1024 // byte offset of the primary superblock
	SUPERBLOCK_SIZE   = 1024
	SUPER_MAGIC       = 0xEF53

	MIN_BLOCK_SIZE = 1024
	MAX_BLOCK_SIZE = 65536

	GOOD_OLD_INODE_SIZE = 128 // minimum on-disk inode size
	GOOD_OLD_FIRST_INO  = 11  // first non-reserved inode

	MIN_DESC_SIZE = 32
	MAX_DESC_SIZE = 64

	ROOT_INODE = 2
	NO_INODE   = 0
	NO_BLOCK   = 0

	NAME_MAX = 255 // max length of a single path segment
)

// Inode block map
const (
	NDIR_BLOCKS = 12              // direct block pointers in an inode
	IND_BLOCK   = NDIR_BLOCKS     // single indirect
	DIND_BLOCK  = IND_BLOCK + 1   // double indirect
	TIND_BLOCK  = DIND_BLOCK + 1  // triple indirect
	N_BLOCKS    = TIND_BLOCK + 1  // total pointers in i_block
)

// Inode mode bits
const (
	S_IFMT   = 0xF000
	S_IFSOCK = 0xC000
	S_IFLNK  = 0xA000
	S_IFREG  = 0x8000
	S_IFBLK  = 0x6000
	S_IFDIR  = 0x4000
	S_IFCHR  = 0x2000
	S_IFIFO  = 0x1000
)

// Inode flags
const (
	INODE_FLAG_INDEX   = 0x00001000 // hash-indexed directory
	INODE_FLAG_EXTENTS = 0x00080000
)

// Directory entry file types (FILETYPE feature)
const (
	FT_UNKNOWN  = 0
	FT_REG_FILE = 1
	FT_DIR      = 2
	FT_CHRDEV   = 3
	FT_BLKDEV   = 4
	FT_FIFO     = 5
	FT_SOCK     = 6
	FT_SYMLINK  = 7
)

// Superblock state
const (
	STATE_VALID  = 0x0001
	STATE_ERROR  = 0x0002
	STATE_ORPHAN = 0x0004
)

// Compatible features
const (
	FEATURE_COMPAT_DIR_PREALLOC = 0x0001
	FEATURE_COMPAT_HAS_JOURNAL  = 0x0004
	FEATURE_COMPAT_EXT_ATTR     = 0x0008
	FEATURE_COMPAT_RESIZE_INODE = 0x0010
	FEATURE_COMPAT_DIR_INDEX    = 0x0020
)

// Read-only compatible features
const (
	FEATURE_RO_COMPAT_SPARSE_SUPER  = 0x0001
	FEATURE_RO_COMPAT_LARGE_FILE    = 0x0002
	FEATURE_RO_COMPAT_HUGE_FILE     = 0x0008
	FEATURE_RO_COMPAT_GDT_CSUM      = 0x0010
	FEATURE_RO_COMPAT_DIR_NLINK     = 0x0020
	FEATURE_RO_COMPAT_EXTRA_ISIZE   = 0x0040
	FEATURE_RO_COMPAT_METADATA_CSUM = 0x0400
)

// Incompatible features
const (
	FEATURE_INCOMPAT_COMPRESSION = 0x0001
	FEATURE_INCOMPAT_FILETYPE    = 0x0002
	FEATURE_INCOMPAT_RECOVER     = 0x0004
	FEATURE_INCOMPAT_JOURNAL_DEV = 0x0008
	FEATURE_INCOMPAT_META_BG     = 0x0010
	FEATURE_INCOMPAT_EXTENTS     = 0x0040
	FEATURE_INCOMPAT_64BIT       = 0x0080
	FEATURE_INCOMPAT_FLEX_BG     = 0x0200
)

// Features this implementation can read and write.
const (
	SUPPORTED_INCOMPAT = FEATURE_INCOMPAT_FILETYPE |
		FEATURE_INCOMPAT_64BIT |
		FEATURE_INCOMPAT_FLEX_BG
	SUPPORTED_RO_COMPAT = FEATURE_RO_COMPAT_SPARSE_SUPER |
		FEATURE_RO_COMPAT_LARGE_FILE |
		FEATURE_RO_COMPAT_HUGE_FILE |
		FEATURE_RO_COMPAT_DIR_NLINK |
		FEATURE_RO_COMPAT_EXTRA_ISIZE
)

// Deletion time stamped on an inode whose last link was removed.
const DTIME_DELETED = 0xFFFFFFFF
