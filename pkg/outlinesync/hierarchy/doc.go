/*
Package hierarchy turns numbered outline text into a parent-linked node list.

# Grammar

A line is significant only when it matches

	^\s*(\d+(\.\d+)*)\.?\s+(.+)$

that is, a dot-decimal number, an optional trailing dot, whitespace, then a
title. Anything else (blank lines, prose, soft-wrapped continuations of a
title) is dropped rather than merged into the previous node.

# Levels and codes

The level of a node is the number of dots in its number, so "1" is level 0
and "1.2.3" is level 2. Codes are the prefix joined to the number with dots
replaced by a separator:

	hierarchy.FormatCode("X", "1.2.3") // "X-1_2_3"

# Parent resolution

The parser keeps the most recent code seen at each level. A node at level L
takes the entry at L-1 as its parent, then every entry deeper than L is
cleared, so in

	1 A
	1.1 B
	1.1.1 C
	1.2 D

D resolves to parent "1", never to "1.1". Nodes deeper than the level cap are
discarded and never become anyone's parent.
*/
package hierarchy
