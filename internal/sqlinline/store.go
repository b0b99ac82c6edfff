package sqlinline

// Store rows hold whole JSON subtrees. No stored path is a prefix of another,
// so every node lives in exactly one row: its own, an ancestor's document, or
// spread across descendant rows.

const QEnsureStoreSchema = `--sql 29d69e8f-ec79-4ec0-a7d6-76a7e7c1f753
create table if not exists store_nodes (
  path       text primary key,
  value      jsonb not null,
  updated_at timestamptz not null default now()
);
`

const QLockStoreSubtree = `--sql fbd9dc76-0332-4c8d-bb41-941c02e6d190
select pg_advisory_xact_lock(hashtext($1::text));
`

const QSelectStoreCovering = `--sql b34a2e41-c305-423e-99c8-636c5e7aa3c2
select path, value
from store_nodes
where path = any($1::text[])
order by length(path) desc
limit 1;
`

const QSelectStoreCoveringForUpdate = `--sql 3f27dabb-05a9-4e13-b38b-65674521e98d
select path, value
from store_nodes
where path = any($1::text[])
order by length(path) desc
limit 1
for update;
`

const QSelectStoreDescendants = `--sql 530d810e-e9ed-412c-8673-c019441342fb
select path, value
from store_nodes
where $1::text = '' or starts_with(path, $1::text || '/')
order by path;
`

const QDeleteStoreSubtree = `--sql cddb3f4e-a526-4da8-b4e1-64707ae87f4a
delete from store_nodes
where path = $1::text or starts_with(path, $1::text || '/');
`

const QUpsertStoreNode = `--sql 4f187f39-9d13-4efc-8289-7f4265419826
insert into store_nodes(path, value, updated_at)
values ($1::text, $2::jsonb, now())
on conflict (path) do update
set value = excluded.value,
    updated_at = now();
`

const QNotifyStoreChange = `--sql c179e46f-a124-46f7-9f26-946e0eadfdd2
select pg_notify('store_changes', $1::text);
`
