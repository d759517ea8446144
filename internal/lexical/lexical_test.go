package lexical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask_PreservesLengthAndLines(t *testing.T) {
	src := "val a = \"class Foo(\" // class Foo(\n/* class Foo( /* nested */ still */ class Foo(x)\n"
	got := Mask(src, Kotlin)
	require.Len(t, got, len(src))
	assert.Equal(t, strings.Count(src, "\n"), strings.Count(got, "\n"))
	assert.Equal(t, 1, strings.Count(got, "class Foo("))
	assert.True(t, strings.HasSuffix(got, "class Foo(x)\n"))
}

func TestMask_JavaBlockCommentsDoNotNest(t *testing.T) {
	src := "/* a /* b */ class Foo {"
	got := Mask(src, Java)
	assert.Contains(t, got, "class Foo {")
}

func TestMask_KotlinRawString(t *testing.T) {
	src := "val s = \"\"\"\n  override fun onCreate(b: Bundle?) {\n\"\"\"\noverride fun onCreate(b: Bundle?) {"
	got := Mask(src, Kotlin)
	assert.Equal(t, 1, len(Kotlin.EntryMethod.FindAllStringIndex(got, -1)))
}

func TestMask_EscapesAndChars(t *testing.T) {
	src := `val q = "a \" class Foo(" ; val c = '\'' ; class Foo(`
	got := Mask(src, Kotlin)
	assert.Equal(t, 1, strings.Count(got, "class Foo("))
	assert.Len(t, got, len(src))
}

func TestMask_MultibyteComment(t *testing.T) {
	src := "// ╔═══╗\nx"
	got := Mask(src, Kotlin)
	assert.Len(t, got, len(src))
	assert.True(t, strings.HasSuffix(got, "\nx"))
}

func TestClassDecl(t *testing.T) {
	cases := []struct {
		d     *Dialect
		name  string
		src   string
		match bool
	}{
		{Kotlin, "MainActivity", "class MainActivity : ComponentActivity() {", true},
		{Kotlin, "MainActivity", "class MainActivity(val x: Int) : Base()", true},
		{Kotlin, "Foo", "internal open class Foo(", true},
		{Kotlin, "MainActivity", "class MainActivityHelper : Base()", false},
		{Kotlin, "MainActivity", "class MainActivity {", false},
		{Kotlin, "MainActivity", "subclass MainActivity : X", false},
		{Java, "MainActivity", "public class MainActivity extends AppCompatActivity {", true},
		{Java, "MainActivity", "class MainActivity implements Runnable {", true},
		{Java, "MainActivity", "class MainActivity {", true},
		{Java, "MainActivity", "class MainActivityextends {", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.match, tc.d.ClassDecl(tc.name).MatchString(tc.src), tc.src)
	}
}

func TestClassDecl_NameIsQuoted(t *testing.T) {
	re := Kotlin.ClassDecl("Main.Activity")
	assert.False(t, re.MatchString("class MainXActivity("))
	assert.True(t, re.MatchString("class Main.Activity("))
}

func TestEntryMethodAndSuper(t *testing.T) {
	kt := "override fun onCreate(savedInstanceState: Bundle?) {\n    super.onCreate(savedInstanceState)\n"
	assert.True(t, Kotlin.EntryMethod.MatchString(kt))
	assert.Equal(t, "super.onCreate(", Kotlin.SuperForward.FindString(kt))

	java := "@Override\nprotected void onCreate(@Nullable Bundle savedInstanceState) {\n    super.onCreate(savedInstanceState);\n"
	loc := Java.EntryMethod.FindStringIndex(java)
	require.NotNil(t, loc)
	assert.Equal(t, byte('{'), java[loc[1]-1])
	assert.Equal(t, "super.onCreate(", Java.SuperForward.FindString(java))
}

func TestHasImport(t *testing.T) {
	assert.True(t, Kotlin.HasImport.MatchString("package a\nimport com.security.shield.SecurityShield\n"))
	assert.False(t, Kotlin.HasImport.MatchString("import com.security.shield.SecurityShieldX\n"))
	assert.True(t, Java.HasImport.MatchString("import com.security.shield.SecurityShield;\r\n"))
}

func TestLookup(t *testing.T) {
	d, err := Lookup(" Kotlin ")
	require.NoError(t, err)
	assert.Same(t, Kotlin, d)

	_, err = Lookup("swift")
	require.Error(t, err)

	all, err := LookupAll([]string{"java", "kotlin", "java"})
	require.NoError(t, err)
	assert.Equal(t, []*Dialect{Java, Kotlin}, all)

	assert.Same(t, Java, ForPath(all, "a/B.JAVA"))
	assert.Nil(t, ForPath(all, "a/b.xml"))
}
