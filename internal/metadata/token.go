// Package metadata parses the CLI metadata of a managed image: the "BSJB"
// metadata root, the heap streams and the #~ tables stream, exposing typed
// row access for the tables the analysis harness consumes.
package metadata

import "fmt"

// TableID identifies one of the physical metadata tables.
type TableID uint8

// Metadata table numbers (ECMA-335 II.22)
const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableEncLog                 TableID = 0x1E
	TableEncMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	numTables = 0x2D
)

// Token is a metadata token: the table number in the high byte and a
// 1-based row index (RID) in the low three bytes.
type Token uint32

// NewToken builds a token from a table number and RID.
func NewToken(table TableID, rid uint32) Token {
	return Token(uint32(table)<<24 | rid&0x00FFFFFF)
}

// Table returns the table number encoded in the token.
func (t Token) Table() TableID {
	return TableID(t >> 24)
}

// RID returns the 1-based row index encoded in the token.
func (t Token) RID() uint32 {
	return uint32(t) & 0x00FFFFFF
}

// IsNil reports whether the token has a zero RID.
func (t Token) IsNil() bool {
	return t.RID() == 0
}

func (t Token) String() string {
	return fmt.Sprintf("0x%08X", uint32(t))
}
