package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmigrate/internal/migration"
	"modelmigrate/internal/schema"
)

func strptr(s string) *string { return &s }

func userTable() migration.Operation {
	return migration.Operation{
		Kind:   migration.OpCreateTable,
		Entity: "user",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeAuto},
			{Name: "email", Type: schema.TypeString, MaxLength: 254, Unique: true},
			{Name: "active", Type: schema.TypeBoolean, Default: strptr("true")},
			{Name: "created_at", Type: schema.TypeTimestamp, Default: strptr("now")},
		},
		Indexes: []schema.Index{{Name: "ix_user_email", Columns: []string{"email"}}},
	}
}

func TestForKnownProviders(t *testing.T) {
	for _, provider := range []string{"postgres", "mysql", "sqlite"} {
		tr, err := For(provider)
		require.NoError(t, err)
		assert.Equal(t, provider, tr.Name())
	}
	_, err := For("oracle")
	require.Error(t, err)
}

func TestPostgresCreateTable(t *testing.T) {
	stmts, err := Postgres{}.Statements(userTable())
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Equal(t, "CREATE TABLE \"user\" (\n"+
		"\t\"id\" bigserial PRIMARY KEY,\n"+
		"\t\"email\" varchar(254) NOT NULL UNIQUE,\n"+
		"\t\"active\" boolean NOT NULL DEFAULT true,\n"+
		"\t\"created_at\" timestamptz NOT NULL DEFAULT CURRENT_TIMESTAMP\n"+
		")", stmts[0])
	assert.Equal(t, `CREATE INDEX "ix_user_email" ON "user" ("email")`, stmts[1])
}

func TestPostgresCreateTableWithReference(t *testing.T) {
	op := migration.Operation{
		Kind:   migration.OpCreateTable,
		Entity: "post",
		Fields: []schema.Field{
			{Name: "id", Type: schema.TypeAuto},
			{Name: "author", Type: schema.TypeReference, References: "user", OnDelete: schema.DeleteCascade},
		},
	}
	stmts, err := Postgres{}.Statements(op)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], `"author" bigint NOT NULL REFERENCES "user"("id") ON DELETE CASCADE`)
}

func TestPostgresAddColumnOmitsInlineClauses(t *testing.T) {
	col := schema.Field{Name: "email", Type: schema.TypeString, MaxLength: 254, Unique: true}
	stmts, err := Postgres{}.Statements(migration.Operation{
		Kind: migration.OpAddColumn, Entity: "user", Column: &col,
	})
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, `ALTER TABLE "user" ADD COLUMN "email" varchar(254) NOT NULL`, stmts[0])
	assert.NotContains(t, stmts[0], "UNIQUE", "uniqueness travels as a separate constraint operation")
}

func TestPostgresAddConstraint(t *testing.T) {
	cn := schema.Constraint{Name: "uq_user_email", Kind: schema.ConstraintUnique, Columns: []string{"email"}}
	stmts, err := Postgres{}.Statements(migration.Operation{
		Kind: migration.OpAddConstraint, Entity: "user", Constraint: &cn,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "user" ADD CONSTRAINT "uq_user_email" UNIQUE ("email")`}, stmts)

	fk := schema.Constraint{
		Name: "fk_post_author", Kind: schema.ConstraintForeignKey,
		Columns: []string{"author"}, RefEntity: "user", RefColumn: "id", OnDelete: schema.DeleteRestrict,
	}
	stmts, err = Postgres{}.Statements(migration.Operation{
		Kind: migration.OpAddConstraint, Entity: "post", Constraint: &fk,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`ALTER TABLE "post" ADD CONSTRAINT "fk_post_author" FOREIGN KEY ("author") REFERENCES "user"("id") ON DELETE RESTRICT`}, stmts)
}

func TestPostgresAlterColumnMinimalStatements(t *testing.T) {
	cur := schema.Field{Name: "name", Type: schema.TypeString, MaxLength: 200}
	prior := schema.Field{Name: "name", Type: schema.TypeString, MaxLength: 50}
	stmts, err := Postgres{}.Statements(migration.Operation{
		Kind: migration.OpAlterColumn, Entity: "user", Column: &cur, Prior: &prior,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "user" ALTER COLUMN "name" TYPE varchar(200) USING "name"::varchar(200)`,
	}, stmts)

	// Only nullability changed.
	nullable := schema.Field{Name: "name", Type: schema.TypeString, MaxLength: 50, Nullable: true}
	stmts, err = Postgres{}.Statements(migration.Operation{
		Kind: migration.OpAlterColumn, Entity: "user", Column: &nullable, Prior: &prior,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		`ALTER TABLE "user" ALTER COLUMN "name" DROP NOT NULL`,
	}, stmts)
}

func TestMySQLCreateTable(t *testing.T) {
	stmts, err := MySQL{}.Statements(userTable())
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Contains(t, stmts[0], "CREATE TABLE `user` (")
	assert.Contains(t, stmts[0], "`id` bigint AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, stmts[0], "`email` varchar(254) NOT NULL UNIQUE")
	assert.Contains(t, stmts[0], "`active` tinyint(1) NOT NULL DEFAULT 1")
	assert.Contains(t, stmts[0], "`created_at` datetime NOT NULL DEFAULT CURRENT_TIMESTAMP")
	assert.Contains(t, stmts[0], ") ENGINE=InnoDB")
}

func TestMySQLAlterAndRename(t *testing.T) {
	col := schema.Field{Name: "name", Type: schema.TypeString, MaxLength: 200}
	stmts, err := MySQL{}.Statements(migration.Operation{
		Kind: migration.OpAlterColumn, Entity: "user", Column: &col,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE `user` MODIFY COLUMN `name` varchar(200) NOT NULL"}, stmts)

	stmts, err = MySQL{}.Statements(migration.Operation{
		Kind: migration.OpRenameColumn, Entity: "user", OldName: "mail", NewName: "email",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE `user` RENAME COLUMN `mail` TO `email`"}, stmts)
}

func TestMySQLDropConstraintByKind(t *testing.T) {
	uq := schema.Constraint{Name: "uq_user_email", Kind: schema.ConstraintUnique, Columns: []string{"email"}}
	stmts, err := MySQL{}.Statements(migration.Operation{
		Kind: migration.OpDropConstraint, Entity: "user", Constraint: &uq,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE `user` DROP INDEX `uq_user_email`"}, stmts)

	fk := schema.Constraint{Name: "fk_post_author", Kind: schema.ConstraintForeignKey, Columns: []string{"author"}}
	stmts, err = MySQL{}.Statements(migration.Operation{
		Kind: migration.OpDropConstraint, Entity: "post", Constraint: &fk,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE `post` DROP FOREIGN KEY `fk_post_author`"}, stmts)
}

func TestSQLiteUniqueConstraintAsIndex(t *testing.T) {
	cn := schema.Constraint{Name: "uq_user_email", Kind: schema.ConstraintUnique, Columns: []string{"email"}}
	stmts, err := SQLite{}.Statements(migration.Operation{
		Kind: migration.OpAddConstraint, Entity: "user", Constraint: &cn,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`CREATE UNIQUE INDEX "uq_user_email" ON "user" ("email")`}, stmts)

	stmts, err = SQLite{}.Statements(migration.Operation{
		Kind: migration.OpDropConstraint, Entity: "user", Constraint: &cn,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`DROP INDEX "uq_user_email"`}, stmts)
}

func TestSQLiteRejectsUnsupportedAlterations(t *testing.T) {
	col := schema.Field{Name: "name", Type: schema.TypeString}
	_, err := SQLite{}.Statements(migration.Operation{
		Kind: migration.OpAlterColumn, Entity: "user", Column: &col,
	})
	require.Error(t, err)

	fk := schema.Constraint{Name: "fk_post_author", Kind: schema.ConstraintForeignKey, Columns: []string{"author"}}
	_, err = SQLite{}.Statements(migration.Operation{
		Kind: migration.OpAddConstraint, Entity: "post", Constraint: &fk,
	})
	require.Error(t, err)
}

func TestTransactionalDDLFlags(t *testing.T) {
	assert.True(t, Postgres{}.SupportsTransactionalDDL())
	assert.False(t, MySQL{}.SupportsTransactionalDDL())
	assert.True(t, SQLite{}.SupportsTransactionalDDL())
}
