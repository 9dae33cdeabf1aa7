// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides id minting, anonymous identity derivation, and
HMAC-based keys and codes.

# Identity

Entity ids are random UUIDs (NewID). Anonymous participant ids are
derived, not random: AnonymousID("tok") always returns "anon-tok", so a
session converges on one participant row no matter how many requests it
makes.

# Keys and Codes

Admin keys and completion codes are HMACs over the entity id with a
server-side salt. They are deterministic and verified by recomputation;
nothing secret is stored in the database.
*/
package auth
